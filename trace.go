package evmrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
)

const (
	// DefaultMaxReportLines caps emitted report lines for both the call-tree
	// and the raw opcode formatter. Raw logs can hold tens of thousands of
	// entries and call trees can be pathologically deep, one bound covers both.
	DefaultMaxReportLines = 300

	// CallerLabel is the synthetic identifier used for the root sender.
	CallerLabel = "Caller"

	// maxInlineHex is the longest hex payload rendered without truncation,
	// "0x" plus one 32-byte word.
	maxInlineHex = 66
)

var (
	callTypeColor = color.New(color.FgCyan)
	errorColor    = color.New(color.FgRed)
)

// TraceCall is one frame of a debug_traceTransaction callTracer result. The
// node returns loosely-typed JSON, every field stays a hex string until the
// formatter interprets it.
type TraceCall struct {
	Type    string      `json:"type"`
	From    string      `json:"from"`
	To      string      `json:"to,omitempty"`
	Value   string      `json:"value,omitempty"`
	Gas     string      `json:"gas,omitempty"`
	GasUsed string      `json:"gasUsed,omitempty"`
	Input   string      `json:"input,omitempty"`
	Output  string      `json:"output,omitempty"`
	Error   string      `json:"error,omitempty"`
	Calls   []TraceCall `json:"calls,omitempty"`
}

// TxSummary is the originating transaction of a trace, numeric fields are
// hex-encoded the way the node returns them.
type TxSummary struct {
	Hash     string `json:"hash"`
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Value    string `json:"value,omitempty"`
	Gas      string `json:"gas,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
	Input    string `json:"input,omitempty"`
}

// DecoratedCall is one call frame with its decoded identity attached, the
// shared intermediate form both the text and the JSON renderer consume.
type DecoratedCall struct {
	Frame    *TraceCall
	Depth    int
	FromName string
	ToName   string
	Decoded  *DecodedCall
	Outputs  []DecodedParameter
	Children []*DecoratedCall
}

// CallTraceFormatter decodes and renders nested call-tree traces.
type CallTraceFormatter struct {
	Resolver *ContractMetadataResolver
	Decoder  *CallDecoder
	// MaxReportLines caps emitted report lines, 0 falls back to the default.
	MaxReportLines int
}

func NewCallTraceFormatter(resolver *ContractMetadataResolver, decoder *CallDecoder, maxLines int) *CallTraceFormatter {
	if maxLines <= 0 {
		maxLines = DefaultMaxReportLines
	}
	return &CallTraceFormatter{Resolver: resolver, Decoder: decoder, MaxReportLines: maxLines}
}

// CollectAddresses walks the tree and returns every from/to address, used to
// warm the metadata cache before decoration.
func CollectAddresses(root *TraceCall) []string {
	var addrs []string
	stack := []*TraceCall{root}
	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if frame.From != "" {
			addrs = append(addrs, frame.From)
		}
		if frame.To != "" {
			addrs = append(addrs, frame.To)
		}
		for i := len(frame.Calls) - 1; i >= 0; i-- {
			stack = append(stack, &frame.Calls[i])
		}
	}
	return addrs
}

// Decorate runs the single decode traversal over the call tree. It uses an
// explicit worklist instead of recursion so pathologically deep traces cannot
// blow the stack, and processes frames strictly in depth-first preorder.
func (f *CallTraceFormatter) Decorate(ctx context.Context, root *TraceCall) *DecoratedCall {
	f.Resolver.Prefetch(ctx, CollectAddresses(root))

	decoratedRoot := &DecoratedCall{Frame: root, Depth: 0}
	stack := []*DecoratedCall{decoratedRoot}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		f.decorate(ctx, node)

		node.Children = make([]*DecoratedCall, len(node.Frame.Calls))
		for i := range node.Frame.Calls {
			node.Children[i] = &DecoratedCall{Frame: &node.Frame.Calls[i], Depth: node.Depth + 1}
		}
		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, node.Children[i])
		}
	}
	return decoratedRoot
}

func (f *CallTraceFormatter) decorate(ctx context.Context, node *DecoratedCall) {
	frame := node.Frame
	if node.Depth == 0 {
		node.FromName = CallerLabel
	} else if frame.From != "" {
		node.FromName = f.Resolver.DisplayName(ctx, frame.From)
	}
	node.Decoded = f.Decoder.DecodeCalldata(ctx, frame.Type, frame.To, frame.Input)
	node.Outputs = f.Decoder.DecodeOutput(ctx, frame.Type, frame.To, frame.Input, frame.Output)

	// delegated logic belongs to the implementation contract, not the proxy
	if node.Decoded.ContractName != "" {
		node.ToName = node.Decoded.ContractName
	} else if frame.To != "" {
		node.ToName = f.Resolver.DisplayName(ctx, frame.To)
	}
}

// RenderText renders the decorated tree as a depth-indented plain text report,
// bounded by MaxReportLines.
func (f *CallTraceFormatter) RenderText(dec *DecoratedCall, tx *TxSummary) string {
	var b strings.Builder
	writeTxHeader(&b, tx)

	totalFrames := countFrames(dec)
	emitted := 0
	truncated := false

	stack := []*DecoratedCall{dec}
	for len(stack) > 0 && !truncated {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, line := range f.frameLines(node) {
			if emitted >= f.MaxReportLines {
				truncated = true
				break
			}
			b.WriteString(line)
			b.WriteString("\n")
			emitted++
		}
		if truncated {
			break
		}
		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, node.Children[i])
		}
	}

	if truncated {
		b.WriteString(fmt.Sprintf("... report truncated after %d lines (%d call frames in trace)\n", f.MaxReportLines, totalFrames))
	}
	return b.String()
}

// frameLines renders one frame: the call line, an optional output line and an
// optional error line.
func (f *CallTraceFormatter) frameLines(node *DecoratedCall) []string {
	frame := node.Frame
	indent := strings.Repeat("  ", node.Depth)

	from := node.FromName
	if from == "" {
		from = strings.ToLower(frame.From)
	}
	to := node.ToName
	if to == "" {
		to = strings.ToLower(frame.To)
	}

	gasInfo := fmt.Sprintf("gas %d", parseHexUint(frame.Gas))
	if frame.GasUsed != "" {
		gasInfo = fmt.Sprintf("%s, used %d", gasInfo, parseHexUint(frame.GasUsed))
	}
	callType := frame.Type
	if callType == "" {
		callType = "CALL"
	}

	line := fmt.Sprintf("%s%s %s -> %s %s [%s]",
		indent, callTypeColor.Sprint(callType), from, to, formatDecodedCall(node.Decoded, frame.Input), gasInfo)
	if frame.Value != "" && !isTrivialHex(frame.Value) {
		line = fmt.Sprintf("%s value: %s wei", line, parseHexBig(frame.Value))
	}
	lines := []string{line}

	if !isTrivialHex(frame.Output) {
		if len(node.Outputs) > 0 {
			lines = append(lines, fmt.Sprintf("%s  output: %s", indent, formatParameters(node.Outputs)))
		} else {
			lines = append(lines, fmt.Sprintf("%s  output: %s", indent, truncateHex(frame.Output)))
		}
	}
	if frame.Error != "" {
		lines = append(lines, fmt.Sprintf("%s  %s", indent, errorColor.Sprintf("error: %s", frame.Error)))
	}
	return lines
}

// formatDecodedCall renders "name(arg: value, ...)" or falls back to the raw
// selector / calldata when nothing could be decoded.
func formatDecodedCall(decoded *DecodedCall, input string) string {
	if decoded == nil || decoded.Name == "" {
		if isTrivialHex(input) {
			return "(no calldata)"
		}
		return truncateHex(input)
	}
	if len(decoded.Args) == 0 {
		return decoded.Name + "()"
	}
	return fmt.Sprintf("%s(%s)", decoded.Name, formatParameters(decoded.Args))
}

func formatParameters(params []DecodedParameter) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, fmt.Sprintf("%s: %s", p.Name, formatValue(p.Value)))
	}
	return strings.Join(parts, ", ")
}

func formatValue(v interface{}) string {
	switch tv := v.(type) {
	case string:
		return truncateHex(tv)
	case bool:
		return fmt.Sprintf("%t", tv)
	case []interface{}:
		parts := make([]string, 0, len(tv))
		for _, e := range tv {
			parts = append(parts, formatValue(e))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", tv)
	}
}

func countFrames(dec *DecoratedCall) int {
	count := 0
	stack := []*DecoratedCall{dec}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count++
		stack = append(stack, node.Children...)
	}
	return count
}

func writeTxHeader(b *strings.Builder, tx *TxSummary) {
	if tx == nil {
		return
	}
	b.WriteString(fmt.Sprintf("Transaction %s\n", strings.ToLower(tx.Hash)))
	b.WriteString(fmt.Sprintf("  From:     %s\n", strings.ToLower(tx.From)))
	if tx.To != "" {
		b.WriteString(fmt.Sprintf("  To:       %s\n", strings.ToLower(tx.To)))
	}
	if tx.Value != "" {
		b.WriteString(fmt.Sprintf("  Value:    %s wei\n", parseHexBig(tx.Value)))
	}
	if tx.Gas != "" {
		gasLine := fmt.Sprintf("  Gas:      %d", parseHexUint(tx.Gas))
		if tx.GasPrice != "" {
			gasLine = fmt.Sprintf("%s @ %s wei", gasLine, parseHexBig(tx.GasPrice))
		}
		b.WriteString(gasLine + "\n")
	}
	if !isTrivialHex(tx.Input) {
		b.WriteString(fmt.Sprintf("  Input:    %s\n", truncateHex(tx.Input)))
	}
	b.WriteString("\n")
}

// JSONCallNode is the machine-readable rendering of one decorated frame.
type JSONCallNode struct {
	Type     string             `json:"type"`
	From     string             `json:"from"`
	FromName string             `json:"fromName,omitempty"`
	To       string             `json:"to,omitempty"`
	ToName   string             `json:"toName,omitempty"`
	Method   string             `json:"method,omitempty"`
	Args     []DecodedParameter `json:"args,omitempty"`
	Outputs  []DecodedParameter `json:"outputs,omitempty"`
	Value    string             `json:"value,omitempty"`
	Gas      uint64             `json:"gas"`
	GasUsed  uint64             `json:"gasUsed,omitempty"`
	Input    string             `json:"input,omitempty"`
	Output   string             `json:"output,omitempty"`
	Error    string             `json:"error,omitempty"`
	Calls    []*JSONCallNode    `json:"calls,omitempty"`
}

// RenderJSON renders the decorated tree as an indented JSON document with hex
// payloads over one word truncated.
func (f *CallTraceFormatter) RenderJSON(dec *DecoratedCall, tx *TxSummary) (string, error) {
	report := struct {
		Transaction *TxSummary    `json:"transaction,omitempty"`
		Trace       *JSONCallNode `json:"trace"`
	}{
		Transaction: tx,
		Trace:       toJSONNode(dec),
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func toJSONNode(dec *DecoratedCall) *JSONCallNode {
	frame := dec.Frame
	node := &JSONCallNode{
		Type:     frame.Type,
		From:     strings.ToLower(frame.From),
		FromName: dec.FromName,
		To:       strings.ToLower(frame.To),
		ToName:   dec.ToName,
		Value:    frame.Value,
		Gas:      parseHexUint(frame.Gas),
		GasUsed:  parseHexUint(frame.GasUsed),
		Input:    truncateHex(frame.Input),
		Output:   truncateHex(frame.Output),
		Error:    frame.Error,
		Outputs:  dec.Outputs,
	}
	if dec.Decoded != nil && dec.Decoded.Name != "" {
		node.Method = dec.Decoded.Name
		node.Args = dec.Decoded.Args
	}
	for _, child := range dec.Children {
		node.Calls = append(node.Calls, toJSONNode(child))
	}
	return node
}
