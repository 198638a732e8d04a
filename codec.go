package evmrpc

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// ABIParam is one input or output parameter of an ABI entry.
type ABIParam struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Indexed bool   `json:"indexed,omitempty"`
}

// ABIEntry is one function or event of a verified contract ABI.
type ABIEntry struct {
	Type    string     `json:"type"`
	Name    string     `json:"name"`
	Inputs  []ABIParam `json:"inputs"`
	Outputs []ABIParam `json:"outputs"`
}

// DecodedParameter is a single decoded call argument or return value.
type DecodedParameter struct {
	Name  string      `json:"name"`
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// ParameterCodec computes selectors/topics from ABI entries and decodes
// ABI-encoded words. It is a deliberately simplified, word-aligned codec:
// top-level static types and single-level dynamic arrays only. Nested dynamic
// types and tuples render as raw hex instead of decoding incorrectly.
type ParameterCodec struct {
	Signatures *SignatureTable
}

func NewParameterCodec(st *SignatureTable) *ParameterCodec {
	if st == nil {
		st = NewSignatureTable()
	}
	return &ParameterCodec{Signatures: st}
}

// CanonicalSignature builds "name(type1,type2,...)" from an ABI entry.
func CanonicalSignature(entry ABIEntry) string {
	types := make([]string, 0, len(entry.Inputs))
	for _, in := range entry.Inputs {
		types = append(types, in.Type)
	}
	return fmt.Sprintf("%s(%s)", entry.Name, strings.Join(types, ","))
}

// Selector computes the 4-byte selector of a function entry and registers the
// signature in the table so later unknown-ABI calls can still be displayed.
func (c *ParameterCodec) Selector(entry ABIEntry) string {
	sig := CanonicalSignature(entry)
	hash := crypto.Keccak256([]byte(sig))
	selector := "0x" + strings.ToLower(fmt.Sprintf("%x", hash[:4]))
	c.Signatures.AddSelector(selector, sig)
	return selector
}

// EventTopic computes the 32-byte topic of an event entry and registers the
// signature in the table.
func (c *ParameterCodec) EventTopic(entry ABIEntry) string {
	sig := CanonicalSignature(entry)
	hash := crypto.Keccak256([]byte(sig))
	topic := "0x" + strings.ToLower(fmt.Sprintf("%x", hash))
	c.Signatures.AddTopic(topic, sig)
	return topic
}

// Decode splits hex-encoded data into 32-byte words, one per declared
// parameter in declaration order, and interprets each word by its type.
// It never fails: anything it cannot interpret comes back as raw hex.
func (c *ParameterCodec) Decode(data string, params []ABIParam) []DecodedParameter {
	return c.decode(data, params, false)
}

// DecodeOutputs behaves like Decode but additionally resolves single-level
// dynamic arrays: the parameter word is read as a byte offset into the data,
// the word at the offset as the element count, and the following words as the
// elements. Outputs with multiple dynamic fields or nested structures are not
// supported and fall back to raw words.
func (c *ParameterCodec) DecodeOutputs(data string, params []ABIParam) []DecodedParameter {
	return c.decode(data, params, true)
}

func (c *ParameterCodec) decode(data string, params []ABIParam, resolveArrays bool) []DecodedParameter {
	hexData := strings.TrimPrefix(strings.ToLower(data), "0x")
	words := splitWords(hexData)

	decoded := make([]DecodedParameter, 0, len(params))
	for i, param := range params {
		name := param.Name
		if name == "" {
			name = strconv.Itoa(i)
		}
		if i >= len(words) {
			decoded = append(decoded, DecodedParameter{Name: name, Type: param.Type, Value: "0x"})
			continue
		}
		var value interface{}
		if resolveArrays && strings.HasSuffix(param.Type, "[]") {
			value = decodeDynamicArray(words[i], words, strings.TrimSuffix(param.Type, "[]"))
		} else {
			value = decodeWord(words[i], param.Type)
		}
		decoded = append(decoded, DecodedParameter{Name: name, Type: param.Type, Value: value})
	}
	return decoded
}

// splitWords chops hex data into 64-char words, the trailing partial word is
// kept as-is so short inputs still decode to something displayable.
func splitWords(hexData string) []string {
	var words []string
	for i := 0; i < len(hexData); i += 64 {
		end := i + 64
		if end > len(hexData) {
			end = len(hexData)
		}
		words = append(words, hexData[i:end])
	}
	return words
}

func decodeWord(word, typ string) interface{} {
	switch {
	case typ == "address":
		if len(word) >= 64 {
			return "0x" + word[24:64]
		}
		return "0x" + word
	case typ == "bool":
		return strings.HasSuffix(word, "1")
	case strings.HasPrefix(typ, "uint") || strings.HasPrefix(typ, "int"):
		n, ok := new(big.Int).SetString(word, 16)
		if !ok {
			// malformed words decode to zero rather than failing the trace
			return "0"
		}
		return n.String()
	case strings.HasPrefix(typ, "bytes") && len(typ) > len("bytes"):
		size, err := strconv.Atoi(typ[len("bytes"):])
		if err != nil || size <= 0 || size*2 > len(word) {
			return "0x" + word
		}
		return "0x" + word[:size*2]
	default:
		// dynamic arrays, strings, dynamic bytes and tuples are out of scope
		// for this codec, show the raw word
		return "0x" + word
	}
}

// decodeDynamicArray interprets a word as a byte offset into the data region,
// reads the element count there and decodes up to that many following words.
func decodeDynamicArray(offsetWord string, words []string, elemType string) interface{} {
	offset, ok := new(big.Int).SetString(offsetWord, 16)
	if !ok || !offset.IsInt64() {
		return "0x" + offsetWord
	}
	countIdx := offset.Int64() / 32
	if countIdx < 0 || countIdx >= int64(len(words)) {
		return "0x" + offsetWord
	}
	count, ok := new(big.Int).SetString(words[countIdx], 16)
	if !ok || !count.IsInt64() {
		return "0x" + offsetWord
	}
	n := count.Int64()
	if max := int64(len(words)) - countIdx - 1; n > max {
		n = max
	}
	elems := make([]interface{}, 0, n)
	for i := int64(0); i < n; i++ {
		elems = append(elems, decodeWord(words[countIdx+1+i], elemType))
	}
	return elems
}
