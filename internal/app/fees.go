/**
 * @description
 * This file implements the settlement fee policy. The policy is a pure,
 * deterministic function: it is invoked synchronously inside the locked
 * transfer path and must never block or fail.
 *
 * Rule: intra-network transfers carry no fee; cross-network transfers pay a
 * configurable percentage (default 1%) of the amount, rounded half-up to two
 * decimal places.
 */

package app

import (
	"github.com/shopspring/decimal"

	"github.com/paybridge/settlement-service/internal/domain"
)

var oneHundred = decimal.NewFromInt(100)

// FeePolicy computes the settlement fee for a transfer.
type FeePolicy struct {
	percent decimal.Decimal
}

// NewFeePolicy builds a fee policy from a percentage, e.g. 1.0 for a 1% fee.
// Negative percentages are treated as zero.
func NewFeePolicy(percent float64) FeePolicy {
	p := decimal.NewFromFloat(percent)
	if p.IsNegative() {
		p = decimal.Zero
	}
	return FeePolicy{percent: p}
}

// ComputeFee returns the fee for moving amount from sourceNetwork to
// destNetwork. The fee is zero when both accounts live on the same network;
// otherwise amount × percent / 100, rounded half-up to 2dp.
func (p FeePolicy) ComputeFee(sourceNetwork, destNetwork domain.Network, amount decimal.Decimal) decimal.Decimal {
	if sourceNetwork == destNetwork {
		return decimal.Zero
	}
	return amount.Mul(p.percent).Div(oneHundred).Round(2)
}
