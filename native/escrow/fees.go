package escrow

import (
	"fmt"
	"math/big"
)

// HardMaxFeeBps caps the configurable fee ceiling. No policy may charge more
// than 5% regardless of configuration.
const HardMaxFeeBps uint32 = 500

const bpsDenominator = 10_000

// FeePolicy maps a gross settlement amount to the net payout and the protocol
// fee. The bps rate is validated when the policy is constructed, not on every
// application.
type FeePolicy struct {
	FeeBps    uint32
	MaxFeeBps uint32
	Collector [20]byte
}

// NewFeePolicy validates the rate against the supplied ceiling (itself capped
// at HardMaxFeeBps) and returns the policy.
func NewFeePolicy(feeBps, maxFeeBps uint32, collector [20]byte) (FeePolicy, error) {
	if maxFeeBps == 0 || maxFeeBps > HardMaxFeeBps {
		return FeePolicy{}, fmt.Errorf("max fee bps must be in (0, %d], got %d", HardMaxFeeBps, maxFeeBps)
	}
	if feeBps > maxFeeBps {
		return FeePolicy{}, fmt.Errorf("fee bps %d exceeds configured maximum %d", feeBps, maxFeeBps)
	}
	return FeePolicy{FeeBps: feeBps, MaxFeeBps: maxFeeBps, Collector: collector}, nil
}

// Apply splits amount into (net, fee) using the policy rate, or overrideBps
// when supplied. fee = floor(amount*bps/10000), net = amount - fee; the pair
// always sums back to amount exactly and neither component is ever negative.
func (p FeePolicy) Apply(amount *big.Int, overrideBps *uint32) (*big.Int, *big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, nil, fmt.Errorf("fee policy: amount must be non-negative")
	}
	bps := p.FeeBps
	if overrideBps != nil {
		if *overrideBps > p.MaxFeeBps {
			return nil, nil, fmt.Errorf("fee policy: override bps %d exceeds maximum %d", *overrideBps, p.MaxFeeBps)
		}
		bps = *overrideBps
	}
	if bps == 0 || amount.Sign() == 0 {
		return new(big.Int).Set(amount), big.NewInt(0), nil
	}
	fee := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	fee.Div(fee, big.NewInt(bpsDenominator))
	net := new(big.Int).Sub(amount, fee)
	return net, fee, nil
}
