package match

import (
	"github.com/shopspring/decimal"

	"github.com/vidora/stars-service/internal/domain/entities"
)

// DefaultToleranceBps is the default amount tolerance in basis points
const DefaultToleranceBps = 50

var bpsDivisor = decimal.NewFromInt(10_000)

// Matcher selects the deposit intent a chain transfer settles.
type Matcher struct {
	toleranceBps int64
}

// NewMatcher creates a matcher with the given tolerance in basis points
func NewMatcher(toleranceBps int64) *Matcher {
	if toleranceBps < 0 {
		toleranceBps = DefaultToleranceBps
	}
	return &Matcher{toleranceBps: toleranceBps}
}

// WithinTolerance reports whether actual is within the configured
// tolerance of expected. Bounds are inclusive.
func (m *Matcher) WithinTolerance(expected, actual decimal.Decimal) bool {
	tolerance := expected.Mul(decimal.NewFromInt(m.toleranceBps)).Div(bpsDivisor)
	return actual.Sub(expected).Abs().LessThanOrEqual(tolerance)
}

// Match picks the best candidate deposit for a transfer, or nil when no
// candidate qualifies. Candidates whose deposit address matches the
// transfer's destination are preferred; when none carry an address match
// the search falls back to amount-only. Ties break on smallest amount
// difference, then oldest intent, so repeated runs over the same
// candidates pick the same deposit.
func (m *Matcher) Match(candidates []*entities.StarDeposit, amount decimal.Decimal, toAddress *string) *entities.StarDeposit {
	if toAddress != nil {
		var addressed []*entities.StarDeposit
		for _, d := range candidates {
			if d.DepositAddress != nil && *d.DepositAddress == *toAddress {
				addressed = append(addressed, d)
			}
		}
		if best := m.bestByAmount(addressed, amount); best != nil {
			return best
		}
	}
	return m.bestByAmount(candidates, amount)
}

func (m *Matcher) bestByAmount(candidates []*entities.StarDeposit, amount decimal.Decimal) *entities.StarDeposit {
	var best *entities.StarDeposit
	var bestDiff decimal.Decimal

	for _, d := range candidates {
		if !m.WithinTolerance(d.ExpectedAmount, amount) {
			continue
		}
		diff := amount.Sub(d.ExpectedAmount).Abs()
		switch {
		case best == nil:
			best, bestDiff = d, diff
		case diff.LessThan(bestDiff):
			best, bestDiff = d, diff
		case diff.Equal(bestDiff) && d.CreatedAt.Before(best.CreatedAt):
			best = d
		}
	}
	return best
}
