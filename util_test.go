package evmrpc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHexUint(t *testing.T) {
	require.EqualValues(t, 21000, parseHexUint("0x5208"))
	require.EqualValues(t, 0, parseHexUint(""))
	require.EqualValues(t, 0, parseHexUint("0x"))
	require.EqualValues(t, 0, parseHexUint("0xzz"))
}

func TestParseHexBig(t *testing.T) {
	require.Equal(t, "1000000000000000000", parseHexBig("0xde0b6b3a7640000"))
	require.Equal(t, "0", parseHexBig(""))
	require.Equal(t, "0", parseHexBig("0xnothex"))
}

func TestTruncateHex(t *testing.T) {
	word := "0x" + strings.Repeat("a", 64)
	require.Equal(t, word, truncateHex(word))

	long := "0x" + strings.Repeat("a", 65)
	got := truncateHex(long)
	require.Len(t, got, maxInlineHex+3)
	require.True(t, strings.HasSuffix(got, "..."))
}
