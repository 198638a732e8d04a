package evmrpc

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferedFeeCapScalesWithCongestion(t *testing.T) {
	baseFee := big.NewInt(1_000_000_000)
	tip := big.NewInt(100_000_000)

	idle := bufferedFeeCap(baseFee, tip, 0)
	require.Equal(t, big.NewInt(1_100_000_000), idle)

	full := bufferedFeeCap(baseFee, tip, 1)
	require.Equal(t, big.NewInt(1_650_000_000), full)

	half := bufferedFeeCap(baseFee, tip, 0.5)
	require.Equal(t, big.NewInt(1_375_000_000), half)
}

func TestBufferedFeeCapClampsCongestion(t *testing.T) {
	baseFee := big.NewInt(1_000_000_000)

	overloaded := bufferedFeeCap(baseFee, nil, 3.5)
	require.Equal(t, big.NewInt(1_500_000_000), overloaded)

	negative := bufferedFeeCap(baseFee, nil, -1)
	require.Equal(t, big.NewInt(1_000_000_000), negative)
}

func TestBufferedFeeCapNilBaseFee(t *testing.T) {
	require.Nil(t, bufferedFeeCap(nil, big.NewInt(1), 0.5))
}

func TestFloatToWei(t *testing.T) {
	require.Equal(t, big.NewInt(1_500_000_000), floatToWei(1.5e9))
	require.Equal(t, big.NewInt(0), floatToWei(0))
}
