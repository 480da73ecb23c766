package fees

import (
	"errors"

	"github.com/shopspring/decimal"
)

// PlatformFeeBps is the marketplace charge applied to dataset purchases and
// withheld from bounty rewards at fulfillment, expressed in basis points.
const PlatformFeeBps = 250

// QuoteScale is the number of decimal places quoted amounts are rounded to.
const QuoteScale = 4

// ErrInvalidAmount rejects negative or malformed monetary inputs before any
// ledger write is attempted.
var ErrInvalidAmount = errors.New("fees: invalid amount")

var (
	platformRate = decimal.New(PlatformFeeBps, -4)

	// NetworkFeeEstimate is a displayed placeholder only. The ledger
	// determines the real network fee at execution time, so the estimate is
	// excluded from quoted totals.
	NetworkFeeEstimate = decimal.New(15, -4)
)

// PurchaseQuote breaks down the amount due for a dataset purchase.
type PurchaseQuote struct {
	Price              decimal.Decimal
	PlatformFee        decimal.Decimal
	NetworkFeeEstimate decimal.Decimal
	Total              decimal.Decimal
}

// BountyFeeQuote describes the split applied to a bounty reward when the
// ledger releases escrow to the fulfiller.
type BountyFeeQuote struct {
	Reward      decimal.Decimal
	PlatformFee decimal.Decimal
	NetReward   decimal.Decimal
}

// QuotePurchase computes the platform fee and total due for a listed price.
// The fee rounds half-up to QuoteScale places; prices are non-negative so
// decimal's round-half-away-from-zero is exactly round-half-up here.
func QuotePurchase(price decimal.Decimal) (PurchaseQuote, error) {
	if price.Sign() < 0 {
		return PurchaseQuote{}, ErrInvalidAmount
	}
	fee := price.Mul(platformRate).Round(QuoteScale)
	return PurchaseQuote{
		Price:              price,
		PlatformFee:        fee,
		NetworkFeeEstimate: NetworkFeeEstimate,
		Total:              price.Add(fee),
	}, nil
}

// QuoteBountyFee computes the platform fee withheld when a bounty reward is
// released from escrow. The ledger performs the actual withholding; callers
// use this quote for display and settlement reporting, so the rate must not
// drift from what was quoted at creation time.
func QuoteBountyFee(reward decimal.Decimal) (BountyFeeQuote, error) {
	if reward.Sign() < 0 {
		return BountyFeeQuote{}, ErrInvalidAmount
	}
	fee := reward.Mul(platformRate).Round(QuoteScale)
	return BountyFeeQuote{
		Reward:      reward,
		PlatformFee: fee,
		NetReward:   reward.Sub(fee),
	}, nil
}
