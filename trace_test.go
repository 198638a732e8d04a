package evmrpc_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/barkimedes/go-deepcopy"
	evmrpc "github.com/karacurt/evm-rpc-mcp-server"
	"github.com/stretchr/testify/require"
)

func newTestFormatters(t *testing.T, baseURL string, maxLines int) (*evmrpc.CallTraceFormatter, *evmrpc.RawTraceFormatter) {
	t.Helper()
	codec := evmrpc.NewParameterCodec(evmrpc.NewSignatureTable())
	cfg := &evmrpc.MetadataConfig{
		APIURL:          baseURL,
		RequestTimeout:  evmrpc.MustMakeDuration(5 * time.Second),
		PrefetchWorkers: 2,
	}
	resolver := evmrpc.NewContractMetadataResolver(cfg, nil, codec, nil)
	decoder := evmrpc.NewCallDecoder(resolver, codec)
	return evmrpc.NewCallTraceFormatter(resolver, decoder, maxLines),
		evmrpc.NewRawTraceFormatter(resolver, decoder, maxLines)
}

func transferCalldata() string {
	return "0xa9059cbb" + strings.Repeat("00", 12) + strings.Repeat("11", 20) + strings.Repeat("0", 62) + "2a"
}

func TestCallTraceFormatterPreservesPreorder(t *testing.T) {
	var requests atomic.Int64
	srv := newTestMetadataService(t, &requests)
	formatter, _ := newTestFormatters(t, srv.URL, 0)

	root := &evmrpc.TraceCall{
		Type: "CALL", From: "0xf100000000000000000000000000000000000001",
		To: "0xf100000000000000000000000000000000000002", Input: "0xaaaa1111", Gas: "0x5208",
		Calls: []evmrpc.TraceCall{
			{
				Type: "CALL", From: "0xf100000000000000000000000000000000000002",
				To: "0xf100000000000000000000000000000000000003", Input: "0xbbbb2222", Gas: "0x1000",
				Calls: []evmrpc.TraceCall{
					{
						Type: "STATICCALL", From: "0xf100000000000000000000000000000000000003",
						To: "0xf100000000000000000000000000000000000004", Input: "0xcccc3333", Gas: "0x800",
					},
				},
			},
			{
				Type: "CALL", From: "0xf100000000000000000000000000000000000002",
				To: "0xf100000000000000000000000000000000000005", Input: "0xdddd4444", Gas: "0x1000",
			},
		},
	}

	decorated := formatter.Decorate(context.Background(), root)
	report := formatter.RenderText(decorated, nil)

	rootIdx := strings.Index(report, "0xaaaa1111")
	aIdx := strings.Index(report, "0xbbbb2222")
	a1Idx := strings.Index(report, "0xcccc3333")
	bIdx := strings.Index(report, "0xdddd4444")
	require.True(t, rootIdx >= 0 && aIdx >= 0 && a1Idx >= 0 && bIdx >= 0, "all frames must be rendered")
	require.Less(t, rootIdx, aIdx, "root before first child")
	require.Less(t, aIdx, a1Idx, "first child before grandchild")
	require.Less(t, a1Idx, bIdx, "grandchild before second child")

	require.Contains(t, report, "Caller", "root sender uses the synthetic Caller label")

	// grandchild sits two indent levels deep
	for _, line := range strings.Split(report, "\n") {
		if strings.Contains(line, "0xcccc3333") {
			require.True(t, strings.HasPrefix(line, "    "), "grandchild line must be indented: %q", line)
		}
	}
}

func TestCallTraceDecodesAgainstVerifiedABI(t *testing.T) {
	var requests atomic.Int64
	srv := newTestMetadataService(t, &requests)
	formatter, _ := newTestFormatters(t, srv.URL, 0)

	root := &evmrpc.TraceCall{
		Type:    "CALL",
		From:    "0xf100000000000000000000000000000000000001",
		To:      tokenAddress,
		Input:   transferCalldata(),
		Output:  strings.Repeat("0", 63) + "1",
		Gas:     "0x5208",
		GasUsed: "0x5000",
	}

	decorated := formatter.Decorate(context.Background(), root)
	report := formatter.RenderText(decorated, nil)

	require.Contains(t, report, "TestToken")
	require.Contains(t, report, "transfer(to: 0x1111111111111111111111111111111111111111, amount: 42)")
	require.Contains(t, report, "gas 21000, used 20480")
	require.Contains(t, report, "output: 0: true")
}

func TestDelegateCallDecodesWithImplementationABI(t *testing.T) {
	var requests atomic.Int64
	srv := newTestMetadataService(t, &requests)
	formatter, _ := newTestFormatters(t, srv.URL, 0)

	setValueSelector := evmrpc.NewParameterCodec(nil).Selector(evmrpc.ABIEntry{
		Type:   "function",
		Name:   "setValue",
		Inputs: []evmrpc.ABIParam{{Name: "value", Type: "uint256"}},
	})
	input := setValueSelector + strings.Repeat("0", 62) + "2a"

	root := &evmrpc.TraceCall{
		Type:  "DELEGATECALL",
		From:  "0xf100000000000000000000000000000000000001",
		To:    proxyAddress,
		Input: input,
		Gas:   "0x5208",
	}

	decorated := formatter.Decorate(context.Background(), root)
	report := formatter.RenderText(decorated, nil)

	require.Contains(t, report, "setValue(value: 42)")
	require.Contains(t, report, "TestImplementation", "delegated logic is attributed to the implementation")
}

func TestDelegateCallWithoutImplementationFallsBackToOwnABI(t *testing.T) {
	var requests atomic.Int64
	srv := newTestMetadataService(t, &requests)
	formatter, _ := newTestFormatters(t, srv.URL, 0)

	root := &evmrpc.TraceCall{
		Type:  "DELEGATECALL",
		From:  "0xf100000000000000000000000000000000000001",
		To:    tokenAddress,
		Input: transferCalldata(),
		Gas:   "0x5208",
	}

	decorated := formatter.Decorate(context.Background(), root)
	report := formatter.RenderText(decorated, nil)
	require.Contains(t, report, "transfer(to: 0x1111111111111111111111111111111111111111, amount: 42)")
}

func TestUnknownSelectorRendersSelectorItself(t *testing.T) {
	var requests atomic.Int64
	srv := newTestMetadataService(t, &requests)
	formatter, _ := newTestFormatters(t, srv.URL, 0)

	root := &evmrpc.TraceCall{
		Type:  "CALL",
		From:  "0xf100000000000000000000000000000000000001",
		To:    "0xf100000000000000000000000000000000000002",
		Input: "0xdeadbeef" + strings.Repeat("0", 64),
		Gas:   "0x5208",
	}

	decorated := formatter.Decorate(context.Background(), root)
	report := formatter.RenderText(decorated, nil)
	require.Contains(t, report, "0xdeadbeef")
}

func TestSignatureTableFallbackDecodesArguments(t *testing.T) {
	var requests atomic.Int64
	srv := newTestMetadataService(t, &requests)
	formatter, _ := newTestFormatters(t, srv.URL, 0)

	// unverified target, but the selector is seeded in the signature table
	root := &evmrpc.TraceCall{
		Type:  "CALL",
		From:  "0xf100000000000000000000000000000000000001",
		To:    "0xf100000000000000000000000000000000000002",
		Input: transferCalldata(),
		Gas:   "0x5208",
	}

	decorated := formatter.Decorate(context.Background(), root)
	report := formatter.RenderText(decorated, nil)
	require.Contains(t, report, "transfer(0: 0x1111111111111111111111111111111111111111, 1: 42)")
}

func TestCallTraceErrorRendersDistinguishedLine(t *testing.T) {
	var requests atomic.Int64
	srv := newTestMetadataService(t, &requests)
	formatter, _ := newTestFormatters(t, srv.URL, 0)

	root := &evmrpc.TraceCall{
		Type:  "CALL",
		From:  "0xf100000000000000000000000000000000000001",
		To:    "0xf100000000000000000000000000000000000002",
		Input: "0xdeadbeef",
		Gas:   "0x5208",
		Error: "execution reverted",
	}

	decorated := formatter.Decorate(context.Background(), root)
	report := formatter.RenderText(decorated, nil)
	require.Contains(t, report, "error: execution reverted")
}

func TestCallTraceReportIsBounded(t *testing.T) {
	var requests atomic.Int64
	srv := newTestMetadataService(t, &requests)
	formatter, _ := newTestFormatters(t, srv.URL, 3)

	root := &evmrpc.TraceCall{
		Type: "CALL", From: "0xf100000000000000000000000000000000000001",
		To: "0xf100000000000000000000000000000000000002", Input: "0xaaaa1111", Gas: "0x1",
	}
	for i := 0; i < 4; i++ {
		root.Calls = append(root.Calls, evmrpc.TraceCall{
			Type: "CALL", From: "0xf100000000000000000000000000000000000002",
			To: "0xf100000000000000000000000000000000000003", Input: "0xbbbb2222", Gas: "0x1",
		})
	}

	decorated := formatter.Decorate(context.Background(), root)
	report := formatter.RenderText(decorated, nil)

	require.Contains(t, report, "report truncated after 3 lines (5 call frames in trace)")
	require.Equal(t, 3, strings.Count(report, " -> "))
}

func TestDecorateDoesNotMutateInputTree(t *testing.T) {
	var requests atomic.Int64
	srv := newTestMetadataService(t, &requests)
	formatter, _ := newTestFormatters(t, srv.URL, 0)

	root := &evmrpc.TraceCall{
		Type:  "CALL",
		From:  "0xf100000000000000000000000000000000000001",
		To:    tokenAddress,
		Input: transferCalldata(),
		Gas:   "0x5208",
		Calls: []evmrpc.TraceCall{
			{Type: "STATICCALL", From: tokenAddress, To: implAddress, Input: "0xdeadbeef", Gas: "0x100"},
		},
	}
	copied, err := deepcopy.Anything(root)
	require.NoError(t, err)
	before, err := json.Marshal(copied)
	require.NoError(t, err)

	decorated := formatter.Decorate(context.Background(), root)
	_ = formatter.RenderText(decorated, nil)

	// compare serialized forms, the copy normalizes nil leaf slices to empty
	after, err := json.Marshal(root)
	require.NoError(t, err)
	require.JSONEq(t, string(before), string(after))
}

func TestRenderJSONTruncatesLongHexPayloads(t *testing.T) {
	var requests atomic.Int64
	srv := newTestMetadataService(t, &requests)
	formatter, _ := newTestFormatters(t, srv.URL, 0)

	root := &evmrpc.TraceCall{
		Type:    "CALL",
		From:    "0xf100000000000000000000000000000000000001",
		To:      tokenAddress,
		Input:   transferCalldata(),
		Output:  "0x" + strings.Repeat("ab", 64),
		Gas:     "0x5208",
		GasUsed: "0x5000",
	}

	decorated := formatter.Decorate(context.Background(), root)
	out, err := formatter.RenderJSON(decorated, &evmrpc.TxSummary{Hash: "0xabc", From: "0xf1"})
	require.NoError(t, err)

	var report struct {
		Trace struct {
			Method  string `json:"method"`
			Input   string `json:"input"`
			Output  string `json:"output"`
			Gas     uint64 `json:"gas"`
			GasUsed uint64 `json:"gasUsed"`
		} `json:"trace"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	require.Equal(t, "transfer", report.Trace.Method)
	require.EqualValues(t, 21000, report.Trace.Gas)
	require.True(t, strings.HasSuffix(report.Trace.Input, "..."), "long input hex must be truncated")
	require.Len(t, report.Trace.Input, 69)
	require.True(t, strings.HasSuffix(report.Trace.Output, "..."), "long output hex must be truncated")
}
