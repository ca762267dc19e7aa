package deal

import (
	"math/big"

	"dealchain/native/fees"
	"dealchain/native/offer"
)

// SelectPenalty returns the penalty percent for a cancellation made with
// remaining seconds left before check-in. An option applies once its
// threshold has been crossed (remaining <= Time); among applicable options
// the one closest to check-in (smallest Time) wins and equal thresholds
// resolve to the option listed last. The result is clamped to [0, 100].
func SelectPenalty(options []offer.CancelOption, remaining int64) uint8 {
	var (
		selected uint8
		best     int64
		found    bool
	)
	for _, opt := range options {
		if remaining > opt.Time {
			continue
		}
		if !found || opt.Time <= best {
			best = opt.Time
			selected = opt.Penalty
			found = true
		}
	}
	if selected > offer.MaxPenalty {
		return offer.MaxPenalty
	}
	return selected
}

// PenaltyValue converts a penalty percent into an amount of price using the
// same scaling as fee computation.
func PenaltyValue(price *big.Int, percent uint8) (*big.Int, error) {
	if percent > offer.MaxPenalty {
		percent = offer.MaxPenalty
	}
	return fees.PercentOf(price, percent)
}
