package evmrpc

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer builds the stdio MCP server exposing the EVM read tools.
func NewMCPServer(client *Client) *server.MCPServer {
	s := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	RegisterTools(s, client)
	return s
}

// RegisterTools wires every tool handler into the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	s.AddTool(mcp.NewTool("get_balance",
		mcp.WithDescription("Get the wei balance of an address"),
		mcp.WithString("address", mcp.Required(), mcp.Description("Hex address to query")),
		mcp.WithNumber("block", mcp.Description("Block number, omit for latest")),
	), client.handleGetBalance)

	s.AddTool(mcp.NewTool("get_transaction_count",
		mcp.WithDescription("Get the nonce of an address at the latest block"),
		mcp.WithString("address", mcp.Required(), mcp.Description("Hex address to query")),
	), client.handleGetTransactionCount)

	s.AddTool(mcp.NewTool("get_block",
		mcp.WithDescription("Get a block summary by number"),
		mcp.WithNumber("number", mcp.Description("Block number, omit for latest")),
	), client.handleGetBlock)

	s.AddTool(mcp.NewTool("get_transaction",
		mcp.WithDescription("Get a transaction by hash"),
		mcp.WithString("hash", mcp.Required(), mcp.Description("Transaction hash")),
	), client.handleGetTransaction)

	s.AddTool(mcp.NewTool("get_transaction_receipt",
		mcp.WithDescription("Get the receipt of a mined transaction"),
		mcp.WithString("hash", mcp.Required(), mcp.Description("Transaction hash")),
	), client.handleGetTransactionReceipt)

	s.AddTool(mcp.NewTool("call_contract",
		mcp.WithDescription("Execute a read-only eth_call against the latest block"),
		mcp.WithString("to", mcp.Required(), mcp.Description("Contract address")),
		mcp.WithString("data", mcp.Required(), mcp.Description("Hex-encoded calldata")),
	), client.handleCallContract)

	s.AddTool(mcp.NewTool("get_gas_price",
		mcp.WithDescription("Get the node's suggested gas price"),
	), client.handleGetGasPrice)

	s.AddTool(mcp.NewTool("get_chain_id",
		mcp.WithDescription("Get the chain id of the connected node"),
	), client.handleGetChainID)

	s.AddTool(mcp.NewTool("suggest_gas_fees",
		mcp.WithDescription("Suggest EIP-1559 fees from recent block history"),
		mcp.WithNumber("blocks", mcp.Description("How many recent blocks to sample, default 20")),
		mcp.WithNumber("percentile", mcp.Description("Base fee percentile, default 75")),
	), client.handleSuggestGasFees)

	s.AddTool(mcp.NewTool("trace_transaction",
		mcp.WithDescription("Trace a transaction and render a decoded call report"),
		mcp.WithString("hash", mcp.Required(), mcp.Description("Transaction hash")),
		mcp.WithString("format", mcp.Description("Report format: text (default) or json")),
	), client.handleTraceTransaction)
}

func stringArg(request mcp.CallToolRequest, key string) string {
	if v, ok := request.Params.Arguments[key].(string); ok {
		return v
	}
	return ""
}

func numberArg(request mcp.CallToolRequest, key string) (float64, bool) {
	v, ok := request.Params.Arguments[key].(float64)
	return v, ok
}

func (m *Client) handleGetBalance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := stringArg(request, "address")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}
	var blockNumber *big.Int
	if v, ok := numberArg(request, "block"); ok {
		blockNumber = big.NewInt(int64(v))
	}
	balance, err := m.GetBalance(ctx, address, blockNumber)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Balance of %s: %s wei", strings.ToLower(address), balance.String())), nil
}

func (m *Client) handleGetTransactionCount(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := stringArg(request, "address")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}
	nonce, err := m.GetTransactionCount(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Transaction count of %s: %d", strings.ToLower(address), nonce)), nil
}

func (m *Client) handleGetBlock(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var number *big.Int
	if v, ok := numberArg(request, "number"); ok {
		number = big.NewInt(int64(v))
	}
	block, err := m.GetBlockByNumber(ctx, number)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Block %d\n", block.NumberU64()))
	b.WriteString(fmt.Sprintf("  Hash:         %s\n", block.Hash().Hex()))
	b.WriteString(fmt.Sprintf("  Parent:       %s\n", block.ParentHash().Hex()))
	b.WriteString(fmt.Sprintf("  Timestamp:    %d\n", block.Time()))
	b.WriteString(fmt.Sprintf("  Transactions: %d\n", len(block.Transactions())))
	b.WriteString(fmt.Sprintf("  Gas:          %d / %d\n", block.GasUsed(), block.GasLimit()))
	if block.BaseFee() != nil {
		b.WriteString(fmt.Sprintf("  Base fee:     %s wei\n", block.BaseFee().String()))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (m *Client) handleGetTransaction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hash := stringArg(request, "hash")
	if hash == "" {
		return mcp.NewToolResultError("hash is required"), nil
	}
	tx, pending, err := m.GetTransaction(ctx, hash)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Transaction %s\n", tx.Hash().Hex()))
	b.WriteString(fmt.Sprintf("  Pending:   %t\n", pending))
	if tx.To() != nil {
		b.WriteString(fmt.Sprintf("  To:        %s\n", strings.ToLower(tx.To().Hex())))
	} else {
		b.WriteString("  To:        (contract creation)\n")
	}
	b.WriteString(fmt.Sprintf("  Value:     %s wei\n", tx.Value().String()))
	b.WriteString(fmt.Sprintf("  Gas:       %d @ %s wei\n", tx.Gas(), tx.GasPrice().String()))
	b.WriteString(fmt.Sprintf("  Nonce:     %d\n", tx.Nonce()))
	if len(tx.Data()) > 0 {
		b.WriteString(fmt.Sprintf("  Input:     %s\n", truncateHex(hexutil.Encode(tx.Data()))))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (m *Client) handleGetTransactionReceipt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hash := stringArg(request, "hash")
	if hash == "" {
		return mcp.NewToolResultError("hash is required"), nil
	}
	receipt, err := m.GetTransactionReceipt(ctx, hash)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	status := "success"
	if receipt.Status == 0 {
		status = "reverted"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Receipt %s\n", receipt.TxHash.Hex()))
	b.WriteString(fmt.Sprintf("  Status:    %s\n", status))
	b.WriteString(fmt.Sprintf("  Block:     %s\n", receipt.BlockNumber.String()))
	b.WriteString(fmt.Sprintf("  Gas used:  %d\n", receipt.GasUsed))
	b.WriteString(fmt.Sprintf("  Logs:      %d\n", len(receipt.Logs)))
	if receipt.ContractAddress != (common.Address{}) {
		b.WriteString(fmt.Sprintf("  Deployed:  %s\n", strings.ToLower(receipt.ContractAddress.Hex())))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (m *Client) handleCallContract(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	to := stringArg(request, "to")
	data := stringArg(request, "data")
	if to == "" || data == "" {
		return mcp.NewToolResultError("to and data are required"), nil
	}
	result, err := m.CallContract(ctx, to, data)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(result) == 0 {
		return mcp.NewToolResultText("0x"), nil
	}
	return mcp.NewToolResultText(hexutil.Encode(result)), nil
}

func (m *Client) handleGetGasPrice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	gasPrice, err := m.GetGasPrice(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Gas price: %s wei", gasPrice.String())), nil
}

func (m *Client) handleGetChainID(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chainID, err := m.GetChainID(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Chain ID: %s", chainID.String())), nil
}

func (m *Client) handleSuggestGasFees(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	blocks := uint64(0)
	if v, ok := numberArg(request, "blocks"); ok && v > 0 {
		blocks = uint64(v)
	}
	percentile := 0.0
	if v, ok := numberArg(request, "percentile"); ok {
		percentile = v
	}
	suggestion, err := m.SuggestGasFees(ctx, blocks, percentile)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Fee suggestion over last %d blocks\n", suggestion.BlocksSampled))
	if suggestion.LegacyGasPriceWei != nil {
		b.WriteString(fmt.Sprintf("  Gas price:      %s wei\n", suggestion.LegacyGasPriceWei.String()))
	}
	if suggestion.BaseFeePercentileWei != nil {
		b.WriteString(fmt.Sprintf("  Base fee:       %s wei\n", suggestion.BaseFeePercentileWei.String()))
	}
	if suggestion.TipCapWei != nil {
		b.WriteString(fmt.Sprintf("  Tip cap:        %s wei\n", suggestion.TipCapWei.String()))
	}
	if suggestion.FeeCapWei != nil {
		b.WriteString(fmt.Sprintf("  Fee cap:        %s wei\n", suggestion.FeeCapWei.String()))
	}
	b.WriteString(fmt.Sprintf("  Congestion:     %.2f\n", suggestion.CongestionRatio))
	return mcp.NewToolResultText(b.String()), nil
}

func (m *Client) handleTraceTransaction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hash := stringArg(request, "hash")
	if hash == "" {
		return mcp.NewToolResultError("hash is required"), nil
	}
	format := strings.ToLower(stringArg(request, "format"))
	if format == "" {
		format = "text"
	}
	if format != "text" && format != "json" {
		return mcp.NewToolResultError("format must be text or json"), nil
	}

	report, err := m.TraceAndRender(ctx, hash, format)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(report), nil
}

// TraceAndRender fetches the trace of a transaction and renders it in the
// requested format. The call-tree shape is preferred, flat struct logs are
// the fallback for nodes without custom tracer support.
func (m *Client) TraceAndRender(ctx context.Context, hash, format string) (string, error) {
	summary, err := m.TransactionSummary(ctx, hash)
	if err != nil {
		return "", err
	}
	callTrace, rawTrace, err := m.TraceTransaction(ctx, hash)
	if err != nil {
		return "", err
	}

	if callTrace != nil {
		decorated := m.CallTrace.Decorate(ctx, callTrace)
		if format == "json" {
			return m.CallTrace.RenderJSON(decorated, summary)
		}
		return m.CallTrace.RenderText(decorated, summary), nil
	}
	// the flat opcode log has a single text rendering
	return m.RawTrace.RenderText(ctx, rawTrace, summary), nil
}
