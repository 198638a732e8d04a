package evmrpc

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// OpcodeLogEntry is one struct-log entry of a default debug_traceTransaction
// result: a flat, ordered log whose depth field implies nesting.
type OpcodeLogEntry struct {
	PC      uint64            `json:"pc"`
	Op      string            `json:"op"`
	Gas     uint64            `json:"gas"`
	GasCost uint64            `json:"gasCost"`
	Depth   int               `json:"depth"`
	Stack   []string          `json:"stack,omitempty"`
	Storage map[string]string `json:"storage,omitempty"`
	Memory  []string          `json:"memory,omitempty"`
}

// RawTrace is the default tracer envelope around the struct logs.
type RawTrace struct {
	Gas         uint64           `json:"gas"`
	Failed      bool             `json:"failed"`
	ReturnValue string           `json:"returnValue"`
	StructLogs  []OpcodeLogEntry `json:"structLogs"`
}

// interestingOpcodes are always emitted regardless of depth changes: calls,
// creates, terminal/revert and log opcodes.
var interestingOpcodes = map[string]struct{}{
	"CALL":         {},
	"CALLCODE":     {},
	"DELEGATECALL": {},
	"STATICCALL":   {},
	"CREATE":       {},
	"CREATE2":      {},
	"SELFDESTRUCT": {},
	"RETURN":       {},
	"STOP":         {},
	"REVERT":       {},
	"INVALID":      {},
	"LOG0":         {},
	"LOG1":         {},
	"LOG2":         {},
	"LOG3":         {},
	"LOG4":         {},
}

// callLikeOpcodes additionally show the top of the stack, the words holding
// the call target and arguments.
var callLikeOpcodes = map[string]struct{}{
	"CALL":         {},
	"CALLCODE":     {},
	"DELEGATECALL": {},
	"STATICCALL":   {},
	"CREATE":       {},
	"CREATE2":      {},
	"REVERT":       {},
}

// RawTraceFormatter renders flat per-opcode execution logs. It only decodes
// the top-level function call, the flat format has no call tree to decode.
type RawTraceFormatter struct {
	Resolver *ContractMetadataResolver
	Decoder  *CallDecoder
	// MaxReportLines caps emitted opcode lines, 0 falls back to the default.
	MaxReportLines int
}

func NewRawTraceFormatter(resolver *ContractMetadataResolver, decoder *CallDecoder, maxLines int) *RawTraceFormatter {
	if maxLines <= 0 {
		maxLines = DefaultMaxReportLines
	}
	return &RawTraceFormatter{Resolver: resolver, Decoder: decoder, MaxReportLines: maxLines}
}

// RenderText renders the opcode log, emitting a line whenever the depth
// changes or the opcode is interesting, capped at MaxReportLines.
func (f *RawTraceFormatter) RenderText(ctx context.Context, trace *RawTrace, tx *TxSummary) string {
	var b strings.Builder
	writeTxHeader(&b, tx)

	if tx != nil {
		decoded := f.Decoder.DecodeCalldata(ctx, "CALL", tx.To, tx.Input)
		b.WriteString(fmt.Sprintf("%s %s -> %s %s\n",
			callTypeColor.Sprint("CALL"), CallerLabel, f.targetName(ctx, tx.To), formatDecodedCall(decoded, tx.Input)))
	}
	if trace.Failed {
		b.WriteString(errorColor.Sprint("transaction failed") + "\n")
	}
	b.WriteString(fmt.Sprintf("Gas used: %d\n\n", trace.Gas))

	total := len(trace.StructLogs)
	emitted := 0
	prevDepth := -1
	consumed := 0

	for i := range trace.StructLogs {
		if emitted >= f.MaxReportLines {
			break
		}
		entry := &trace.StructLogs[i]
		_, interesting := interestingOpcodes[entry.Op]
		if entry.Depth == prevDepth && !interesting {
			consumed++
			continue
		}
		b.WriteString(f.entryLine(entry))
		prevDepth = entry.Depth
		emitted++
		consumed++
	}

	if consumed < total {
		b.WriteString(fmt.Sprintf("... output truncated after %d lines: skipped %d of %d total entries\n",
			f.MaxReportLines, total-consumed, total))
	}
	return b.String()
}

func (f *RawTraceFormatter) targetName(ctx context.Context, to string) string {
	if to == "" {
		return "(contract creation)"
	}
	return f.Resolver.DisplayName(ctx, to)
}

func (f *RawTraceFormatter) entryLine(entry *OpcodeLogEntry) string {
	indent := strings.Repeat("  ", entry.Depth-1)
	if entry.Depth < 1 {
		indent = ""
	}
	// some nodes report the full forwarded gas as the cost of call opcodes
	gasAfter := uint64(0)
	if entry.Gas > entry.GasCost {
		gasAfter = entry.Gas - entry.GasCost
	}
	line := fmt.Sprintf("%s[pc %6d] %-14s gas %d -> %d", indent, entry.PC, entry.Op, entry.Gas, gasAfter)

	if _, callLike := callLikeOpcodes[entry.Op]; callLike && len(entry.Stack) > 0 {
		// the last four stack words carry the target and argument offsets
		start := len(entry.Stack) - 4
		if start < 0 {
			start = 0
		}
		line = fmt.Sprintf("%s stack: [%s]", line, strings.Join(entry.Stack[start:], ", "))
	}
	if len(entry.Storage) > 0 {
		keys := make([]string, 0, len(entry.Storage))
		for k := range entry.Storage {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%s", k, entry.Storage[k]))
		}
		line = fmt.Sprintf("%s storage: {%s}", line, strings.Join(pairs, ", "))
	}
	return line + "\n"
}
