package evmrpc

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"go.uber.org/ratelimit"
)

const (
	ErrConnectRPC           = "failed to connect to RPC endpoint"
	ErrReadContractMap      = "failed to read contract name map"
	ErrInvalidAddress       = "invalid address"
	ErrInvalidHash          = "invalid transaction hash"
	ErrTraceNotAvailable    = "node returned no usable trace, debug_traceTransaction may be disabled"
	ErrRPCConnectionRefused = "connection refused"
)

// Client wraps a go-ethereum client with the trace decoding stack: metadata
// resolver, signature table, codec and both trace formatters.
type Client struct {
	Cfg       *Config
	Client    *ethclient.Client
	RPC       *rpc.Client
	Resolver  *ContractMetadataResolver
	Decoder   *CallDecoder
	CallTrace *CallTraceFormatter
	RawTrace  *RawTraceFormatter

	limiter ratelimit.Limiter
}

// NewClientWithConfig creates a client with all deps set up from config.
func NewClientWithConfig(cfg *Config) (*Client, error) {
	rpcClient, err := rpc.Dial(cfg.RPC.URL)
	if err != nil {
		return nil, errors.Wrap(err, ErrConnectRPC)
	}

	names, err := LoadContractMap(cfg.Metadata.ContractMapFile)
	if err != nil {
		return nil, errors.Wrap(err, ErrReadContractMap)
	}

	codec := NewParameterCodec(NewSignatureTable())
	cache := NewLFUMetadataCache(cfg.Metadata.CacheCapacity)
	resolver := NewContractMetadataResolver(cfg.Metadata, cache, codec, names)
	decoder := NewCallDecoder(resolver, codec)

	c := &Client{
		Cfg:       cfg,
		Client:    ethclient.NewClient(rpcClient),
		RPC:       rpcClient,
		Resolver:  resolver,
		Decoder:   decoder,
		CallTrace: NewCallTraceFormatter(resolver, decoder, cfg.Trace.MaxReportLines),
		RawTrace:  NewRawTraceFormatter(resolver, decoder, cfg.Trace.MaxReportLines),
		limiter:   ratelimit.NewUnlimited(),
	}
	if cfg.RPC.RequestsPerSecond > 0 {
		c.limiter = ratelimit.New(cfg.RPC.RequestsPerSecond)
	}

	L.Info().
		Str("RPC", cfg.RPC.URL).
		Str("MetadataAPI", cfg.Metadata.APIURL).
		Int("ContractMapEntries", len(names)).
		Msg("Created new client")
	return c, nil
}

// NewClient creates a client from env vars and the optional TOML config.
func NewClient() (*Client, error) {
	cfg, err := ReadConfig()
	if err != nil {
		return nil, err
	}
	return NewClientWithConfig(cfg)
}

func (m *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	m.limiter.Take()
	return context.WithTimeout(ctx, m.Cfg.RPC.RequestTimeout.Duration())
}

// GetBalance returns the wei balance of an address at the given block, nil
// block means latest.
func (m *Client) GetBalance(ctx context.Context, address string, blockNumber *big.Int) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, errors.New(ErrInvalidAddress)
	}
	ctx, cancel := m.requestContext(ctx)
	defer cancel()
	return m.Client.BalanceAt(ctx, common.HexToAddress(address), blockNumber)
}

// GetTransactionCount returns the nonce of an address at the latest block.
func (m *Client) GetTransactionCount(ctx context.Context, address string) (uint64, error) {
	if !common.IsHexAddress(address) {
		return 0, errors.New(ErrInvalidAddress)
	}
	ctx, cancel := m.requestContext(ctx)
	defer cancel()
	return m.Client.NonceAt(ctx, common.HexToAddress(address), nil)
}

// GetBlockByNumber returns a block, nil means latest.
func (m *Client) GetBlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	ctx, cancel := m.requestContext(ctx)
	defer cancel()
	return m.Client.BlockByNumber(ctx, number)
}

// GetTransaction returns a transaction and whether it is still pending.
func (m *Client) GetTransaction(ctx context.Context, hash string) (*types.Transaction, bool, error) {
	ctx, cancel := m.requestContext(ctx)
	defer cancel()
	return m.Client.TransactionByHash(ctx, common.HexToHash(hash))
}

// GetTransactionReceipt returns the receipt of a mined transaction.
func (m *Client) GetTransactionReceipt(ctx context.Context, hash string) (*types.Receipt, error) {
	ctx, cancel := m.requestContext(ctx)
	defer cancel()
	return m.Client.TransactionReceipt(ctx, common.HexToHash(hash))
}

// CallContract executes a read-only call against the latest block.
func (m *Client) CallContract(ctx context.Context, to string, data string) ([]byte, error) {
	if !common.IsHexAddress(to) {
		return nil, errors.New(ErrInvalidAddress)
	}
	payload, err := hexutil.Decode(data)
	if err != nil {
		return nil, errors.Wrap(err, "invalid call data")
	}
	toAddr := common.HexToAddress(to)
	ctx, cancel := m.requestContext(ctx)
	defer cancel()
	return m.Client.CallContract(ctx, ethereumCallMsg(toAddr, payload), nil)
}

// GetGasPrice returns the node's suggested gas price in wei.
func (m *Client) GetGasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := m.requestContext(ctx)
	defer cancel()
	return m.Client.SuggestGasPrice(ctx)
}

// GetChainID returns the chain id of the connected node.
func (m *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := m.requestContext(ctx)
	defer cancel()
	return m.Client.ChainID(ctx)
}

// TraceTransaction fetches an execution trace, preferring the nested
// callTracer shape and falling back to the flat struct-log tracer on nodes
// that do not support custom tracers.
func (m *Client) TraceTransaction(ctx context.Context, hash string) (*TraceCall, *RawTrace, error) {
	if !strings.HasPrefix(hash, "0x") || len(hash) != 66 {
		return nil, nil, errors.New(ErrInvalidHash)
	}

	var callTrace TraceCall
	err := m.debugRPC(ctx, &callTrace, "debug_traceTransaction", hash, map[string]string{"tracer": "callTracer"})
	if err == nil && (callTrace.Type != "" || len(callTrace.Calls) > 0) {
		return &callTrace, nil, nil
	}
	if err != nil {
		L.Debug().Err(err).Str("Hash", hash).Msg("callTracer not available, falling back to struct logs")
	}

	var rawTrace RawTrace
	if err := m.debugRPC(ctx, &rawTrace, "debug_traceTransaction", hash); err != nil {
		return nil, nil, errors.Wrap(err, ErrTraceNotAvailable)
	}
	return nil, &rawTrace, nil
}

// TransactionSummary builds the hex-encoded transaction summary that heads
// every trace report.
func (m *Client) TransactionSummary(ctx context.Context, hash string) (*TxSummary, error) {
	tx, _, err := m.GetTransaction(ctx, hash)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch transaction")
	}

	summary := &TxSummary{
		Hash:     tx.Hash().Hex(),
		Value:    hexutil.EncodeBig(tx.Value()),
		Gas:      hexutil.EncodeUint64(tx.Gas()),
		GasPrice: hexutil.EncodeBig(tx.GasPrice()),
		Input:    hexutil.Encode(tx.Data()),
	}
	if tx.To() != nil {
		summary.To = strings.ToLower(tx.To().Hex())
	}
	if sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		summary.From = strings.ToLower(sender.Hex())
	}
	return summary, nil
}

func ethereumCallMsg(to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &to, Data: data}
}

// debugRPC issues a raw JSON-RPC call, retrying when the connection is lost.
func (m *Client) debugRPC(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return retry.Do(
		func() error {
			callCtx, cancel := m.requestContext(ctx)
			defer cancel()
			return m.RPC.CallContext(callCtx, result, method, args...)
		}, retry.OnRetry(func(i uint, _ error) {
			L.Debug().Uint("Attempt", i).Str("Method", method).Msg("Retrying RPC call...")
		}),
		retry.DelayType(retry.FixedDelay),
		retry.Attempts(3),
		retry.Delay(time.Duration(1)*time.Second),
		retry.RetryIf(func(err error) bool {
			return strings.Contains(err.Error(), ErrRPCConnectionRefused)
		}),
	)
}
