package evmrpc

import (
	"os"

	"github.com/rs/zerolog"
)

const (
	LogLevelEnvVar = "EVM_MCP_LOG_LEVEL"
)

// L is the default logger. All output goes to stderr, stdout belongs to the MCP transport.
var L zerolog.Logger

func init() {
	initDefaultLogging()
}

func initDefaultLogging() {
	lvlStr := os.Getenv(LogLevelEnvVar)
	if lvlStr == "" {
		lvlStr = "info"
	}
	lvl, err := zerolog.ParseLevel(lvlStr)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	L = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}
