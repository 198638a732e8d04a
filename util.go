package evmrpc

import (
	"math/big"
	"strconv"
	"strings"
)

// parseHexUint parses a 0x-prefixed hex quantity, malformed input yields 0.
func parseHexUint(s string) uint64 {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseHexBig parses a 0x-prefixed hex quantity into a decimal string,
// malformed input yields "0".
func parseHexBig(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return "0"
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return "0"
	}
	return v.String()
}

// truncateHex shortens hex payloads longer than one 32-byte word.
func truncateHex(s string) string {
	if len(s) <= maxInlineHex {
		return s
	}
	return s[:maxInlineHex] + "..."
}
