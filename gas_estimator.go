package evmrpc

import (
	"context"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

const (
	ErrNoHeaders = "failed to fetch any block headers for fee estimation"

	// DefaultFeeEstimationBlocks is how many recent blocks feed the estimate.
	DefaultFeeEstimationBlocks = 20
	// DefaultFeePercentile is the base-fee percentile used for the suggestion.
	DefaultFeePercentile = 75.0
)

// GasSuggestion is a fee recommendation derived from recent block history.
type GasSuggestion struct {
	// LegacyGasPriceWei is the node's plain eth_gasPrice suggestion.
	LegacyGasPriceWei *big.Int `json:"legacyGasPriceWei"`
	// BaseFeePercentileWei is the requested percentile over recent base fees.
	BaseFeePercentileWei *big.Int `json:"baseFeePercentileWei"`
	// TipCapWei is the node's suggested priority fee.
	TipCapWei *big.Int `json:"tipCapWei"`
	// FeeCapWei is the percentile base fee plus the tip, buffered by congestion.
	FeeCapWei *big.Int `json:"feeCapWei"`
	// CongestionRatio is the mean gasUsed/gasLimit over the sampled blocks.
	CongestionRatio float64 `json:"congestionRatio"`
	// BlocksSampled is how many headers the estimate is based on.
	BlocksSampled int `json:"blocksSampled"`
}

// SuggestGasFees samples the last blocksNumber headers and derives an
// EIP-1559 fee suggestion from the base-fee percentile and the network
// congestion ratio.
func (m *Client) SuggestGasFees(ctx context.Context, blocksNumber uint64, percentile float64) (*GasSuggestion, error) {
	if blocksNumber == 0 {
		blocksNumber = DefaultFeeEstimationBlocks
	}
	if percentile <= 0 || percentile > 100 {
		percentile = DefaultFeePercentile
	}

	headerCtx, cancel := m.requestContext(ctx)
	latest, err := m.Client.HeaderByNumber(headerCtx, nil)
	cancel()
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch latest header")
	}

	headers := make([]*types.Header, 0, blocksNumber)
	for i := uint64(0); i < blocksNumber && latest.Number.Uint64() >= i; i++ {
		number := new(big.Int).Sub(latest.Number, big.NewInt(int64(i)))
		headerCtx, cancel := m.requestContext(ctx)
		header, err := m.Client.HeaderByNumber(headerCtx, number)
		cancel()
		if err != nil {
			L.Debug().Err(err).Str("Block", number.String()).Msg("Failed to fetch header, skipping")
			continue
		}
		headers = append(headers, header)
	}
	if len(headers) == 0 {
		return nil, errors.New(ErrNoHeaders)
	}

	baseFees := make([]float64, 0, len(headers))
	ratios := make([]float64, 0, len(headers))
	for _, h := range headers {
		if h.BaseFee != nil {
			fee, _ := new(big.Float).SetInt(h.BaseFee).Float64()
			baseFees = append(baseFees, fee)
		}
		if h.GasLimit > 0 {
			ratios = append(ratios, float64(h.GasUsed)/float64(h.GasLimit))
		}
	}

	suggestion := &GasSuggestion{BlocksSampled: len(headers)}

	gasPriceCtx, cancel := m.requestContext(ctx)
	if gasPrice, err := m.Client.SuggestGasPrice(gasPriceCtx); err == nil {
		suggestion.LegacyGasPriceWei = gasPrice
	}
	cancel()

	tipCtx, cancel := m.requestContext(ctx)
	if tip, err := m.Client.SuggestGasTipCap(tipCtx); err == nil {
		suggestion.TipCapWei = tip
	}
	cancel()

	if len(ratios) > 0 {
		if congestion, err := stats.Mean(ratios); err == nil {
			suggestion.CongestionRatio = congestion
		}
	}
	if len(baseFees) > 0 {
		if perc, err := stats.Percentile(baseFees, percentile); err == nil {
			suggestion.BaseFeePercentileWei = floatToWei(perc)
			suggestion.FeeCapWei = bufferedFeeCap(suggestion.BaseFeePercentileWei, suggestion.TipCapWei, suggestion.CongestionRatio)
		}
	}

	L.Debug().
		Interface("Suggestion", suggestion).
		Float64("Percentile", percentile).
		Msg("Computed gas fee suggestion")
	return suggestion, nil
}

// bufferedFeeCap adds the tip to the percentile base fee and a buffer that
// grows with congestion, up to 50% on a fully congested chain.
func bufferedFeeCap(baseFee, tip *big.Int, congestion float64) *big.Int {
	if baseFee == nil {
		return nil
	}
	feeCap := new(big.Int).Set(baseFee)
	if tip != nil {
		feeCap.Add(feeCap, tip)
	}
	buffer := 1.0 + 0.5*math.Min(math.Max(congestion, 0), 1)
	scaled, _ := new(big.Float).Mul(new(big.Float).SetInt(feeCap), big.NewFloat(buffer)).Int(nil)
	return scaled
}

func floatToWei(v float64) *big.Int {
	wei, _ := big.NewFloat(v).Int(nil)
	return wei
}
