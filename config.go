package evmrpc

import (
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

const (
	ErrReadConfig      = "failed to read TOML config"
	ErrUnmarshalConfig = "failed to unmarshal TOML config"
	ErrEmptyRPCURL     = "no RPC endpoint was set, set EVM_RPC_URL=... or configure [rpc] url in TOML config"

	ConfigPathEnvVar     = "EVM_MCP_CONFIG_PATH"
	RPCURLEnvVar         = "EVM_RPC_URL"
	MetadataAPIURLEnvVar = "METADATA_API_URL"

	ServerName    = "evm-rpc-mcp-server"
	ServerVersion = "1.0.0"
)

type Config struct {
	RPC      *RPCConfig      `toml:"rpc"`
	Metadata *MetadataConfig `toml:"metadata"`
	Trace    *TraceConfig    `toml:"trace"`
}

type RPCConfig struct {
	URL string `toml:"url"`
	// RequestTimeout bounds every single outbound JSON-RPC call.
	RequestTimeout *Duration `toml:"request_timeout"`
	// RequestsPerSecond caps outbound RPC throughput, 0 disables the limiter.
	RequestsPerSecond int `toml:"requests_per_second"`
}

type MetadataConfig struct {
	// APIURL is the base URL of a Blockscout-style metadata service,
	// contracts are fetched from {APIURL}/v2/smart-contracts/{address}.
	APIURL         string    `toml:"api_url"`
	RequestTimeout *Duration `toml:"request_timeout"`
	// CacheCapacity limits the number of cached contracts, 0 means unbounded.
	CacheCapacity int `toml:"cache_capacity"`
	// PrefetchWorkers is the number of concurrent metadata fetches used to
	// warm the cache before a trace is rendered.
	PrefetchWorkers int `toml:"prefetch_workers"`
	// ContractMapFile optionally maps addresses to display names, consulted
	// before the metadata service.
	ContractMapFile string `toml:"contract_map_file"`
}

type TraceConfig struct {
	// MaxReportLines caps the emitted lines of both the call-tree and the
	// raw opcode report.
	MaxReportLines int `toml:"max_report_lines"`
}

// DefaultConfig returns a config that works with env vars alone.
func DefaultConfig() *Config {
	return &Config{
		RPC: &RPCConfig{
			RequestTimeout:    MustMakeDuration(30 * time.Second),
			RequestsPerSecond: 0,
		},
		Metadata: &MetadataConfig{
			RequestTimeout:  MustMakeDuration(10 * time.Second),
			CacheCapacity:   0,
			PrefetchWorkers: DefaultPrefetchWorkers,
		},
		Trace: &TraceConfig{
			MaxReportLines: DefaultMaxReportLines,
		},
	}
}

// ReadConfig reads the optional TOML config pointed to by EVM_MCP_CONFIG_PATH
// and applies env var overrides on top of the defaults.
func ReadConfig() (*Config, error) {
	cfg := DefaultConfig()
	if cfgPath := os.Getenv(ConfigPathEnvVar); cfgPath != "" {
		d, err := os.ReadFile(cfgPath)
		if err != nil {
			return nil, errors.Wrap(err, ErrReadConfig)
		}
		if err := toml.Unmarshal(d, cfg); err != nil {
			return nil, errors.Wrap(err, ErrUnmarshalConfig)
		}
		cfg.applyDefaults()
	}
	if rpcURL := os.Getenv(RPCURLEnvVar); rpcURL != "" {
		cfg.RPC.URL = rpcURL
	}
	if apiURL := os.Getenv(MetadataAPIURLEnvVar); apiURL != "" {
		cfg.Metadata.APIURL = apiURL
	}
	if cfg.RPC.URL == "" {
		return nil, errors.New(ErrEmptyRPCURL)
	}
	L.Trace().Interface("Config", cfg).Msg("Parsed config")
	return cfg, nil
}

// applyDefaults backfills sections and fields the TOML file left out.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.RPC == nil {
		c.RPC = def.RPC
	}
	if c.Metadata == nil {
		c.Metadata = def.Metadata
	}
	if c.Trace == nil {
		c.Trace = def.Trace
	}
	if c.RPC.RequestTimeout == nil {
		c.RPC.RequestTimeout = def.RPC.RequestTimeout
	}
	if c.Metadata.RequestTimeout == nil {
		c.Metadata.RequestTimeout = def.Metadata.RequestTimeout
	}
	if c.Metadata.PrefetchWorkers <= 0 {
		c.Metadata.PrefetchWorkers = def.Metadata.PrefetchWorkers
	}
	if c.Trace.MaxReportLines <= 0 {
		c.Trace.MaxReportLines = def.Trace.MaxReportLines
	}
}
