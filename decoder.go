package evmrpc

import (
	"context"
	"strings"
)

// DecodedCall is the decoded identity of one call's input data.
type DecodedCall struct {
	Name         string             `json:"name"`
	Signature    string             `json:"signature,omitempty"`
	Args         []DecodedParameter `json:"args,omitempty"`
	RawSelector  string             `json:"rawSelector,omitempty"`
	ContractName string             `json:"contractName,omitempty"`
}

// CallDecoder turns raw calldata into a DecodedCall using a three-tier
// fallback: the verified ABI of the target contract, then the signature
// table, then the bare selector. It never fails, the worst case is a call
// displayed by its selector with raw hex arguments.
type CallDecoder struct {
	Resolver *ContractMetadataResolver
	Codec    *ParameterCodec
}

func NewCallDecoder(resolver *ContractMetadataResolver, codec *ParameterCodec) *CallDecoder {
	return &CallDecoder{Resolver: resolver, Codec: codec}
}

// DecodeCalldata decodes the input of a call to the given address. For
// DELEGATECALL frames callers should pass the decode target resolved via
// ResolveImplementation so the logic is attributed to the implementation.
func (d *CallDecoder) DecodeCalldata(ctx context.Context, callType, to, input string) *DecodedCall {
	input = strings.ToLower(strings.TrimSpace(input))
	if len(input) < 10 {
		// no selector, plain value transfer or empty calldata
		return &DecodedCall{Name: "", RawSelector: input}
	}
	selector := input[:10]
	argsData := input[10:]

	decodeTarget := to
	if strings.EqualFold(callType, "DELEGATECALL") {
		if impl := d.Resolver.ResolveImplementation(ctx, to); impl != "" {
			decodeTarget = impl
		}
	}

	if meta := d.Resolver.Fetch(ctx, decodeTarget); meta != nil {
		if entry, ok := meta.FunctionsBySelector[selector]; ok {
			return &DecodedCall{
				Name:         entry.Name,
				Signature:    CanonicalSignature(entry),
				Args:         d.Codec.Decode(argsData, entry.Inputs),
				RawSelector:  selector,
				ContractName: meta.Name,
			}
		}
	}

	if sig, ok := d.Codec.Signatures.LookupSelector(selector); ok {
		if name, paramTypes, parsed := ParseSignature(sig); parsed {
			params := make([]ABIParam, 0, len(paramTypes))
			for _, t := range paramTypes {
				params = append(params, ABIParam{Type: t})
			}
			return &DecodedCall{
				Name:        name,
				Signature:   sig,
				Args:        d.Codec.Decode(argsData, params),
				RawSelector: selector,
			}
		}
	}

	// unknown selector, display the selector itself
	return &DecodedCall{Name: selector, RawSelector: selector}
}

// DecodeOutput decodes returned bytes against the declared outputs of the
// function identified by the call's selector. It returns nil when the function
// is unknown or declares no outputs, the caller then shows the raw hex.
func (d *CallDecoder) DecodeOutput(ctx context.Context, callType, to, input, output string) []DecodedParameter {
	input = strings.ToLower(strings.TrimSpace(input))
	if len(input) < 10 || isTrivialHex(output) {
		return nil
	}
	selector := input[:10]

	decodeTarget := to
	if strings.EqualFold(callType, "DELEGATECALL") {
		if impl := d.Resolver.ResolveImplementation(ctx, to); impl != "" {
			decodeTarget = impl
		}
	}

	meta := d.Resolver.Fetch(ctx, decodeTarget)
	if meta == nil {
		return nil
	}
	entry, ok := meta.FunctionsBySelector[selector]
	if !ok || len(entry.Outputs) == 0 {
		return nil
	}
	return d.Codec.DecodeOutputs(output, entry.Outputs)
}

// isTrivialHex reports whether a hex payload carries no bytes worth decoding.
func isTrivialHex(data string) bool {
	data = strings.TrimPrefix(strings.TrimSpace(data), "0x")
	if data == "" {
		return true
	}
	return strings.Trim(data, "0") == ""
}
