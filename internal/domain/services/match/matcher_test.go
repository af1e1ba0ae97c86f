package match

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidora/stars-service/internal/domain/entities"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func pendingDeposit(expected string, createdAt time.Time, address *string) *entities.StarDeposit {
	return &entities.StarDeposit{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		Chain:          entities.ChainSolana,
		Asset:          entities.AssetUSDC,
		ExpectedAmount: dec(expected),
		DepositAddress: address,
		Status:         entities.StarDepositStatusPending,
		CreatedAt:      createdAt,
	}
}

func TestWithinToleranceBoundsAreInclusive(t *testing.T) {
	m := NewMatcher(50) // 0.5%

	tests := []struct {
		expected string
		actual   string
		want     bool
	}{
		{"100", "100", true},
		{"100", "100.5", true},  // exactly at the upper bound
		{"100", "99.5", true},   // exactly at the lower bound
		{"100", "100.4", true},  // inside
		{"100", "100.6", false}, // just past
		{"100", "99.4", false},
		{"0.5", "0.5025", true},
		{"0.5", "0.503", false},
	}

	for _, tt := range tests {
		got := m.WithinTolerance(dec(tt.expected), dec(tt.actual))
		assert.Equal(t, tt.want, got, "expected=%s actual=%s", tt.expected, tt.actual)
	}
}

func TestMatchPrefersSmallestAmountDifference(t *testing.T) {
	m := NewMatcher(50)
	now := time.Now()

	near := pendingDeposit("100.4", now, nil)
	exact := pendingDeposit("100.5", now, nil)
	far := pendingDeposit("100.6", now, nil)

	got := m.Match([]*entities.StarDeposit{near, exact, far}, dec("100.5"), nil)
	require.NotNil(t, got)
	assert.Equal(t, exact.ID, got.ID)
}

func TestMatchTieBreaksOnOldestIntent(t *testing.T) {
	m := NewMatcher(50)
	now := time.Now()

	newer := pendingDeposit("100", now, nil)
	older := pendingDeposit("100", now.Add(-time.Hour), nil)

	got := m.Match([]*entities.StarDeposit{newer, older}, dec("100.2"), nil)
	require.NotNil(t, got)
	assert.Equal(t, older.ID, got.ID)

	// Order of candidates must not change the winner.
	got = m.Match([]*entities.StarDeposit{older, newer}, dec("100.2"), nil)
	require.NotNil(t, got)
	assert.Equal(t, older.ID, got.ID)
}

func TestMatchPrefersAddressMatch(t *testing.T) {
	m := NewMatcher(50)
	now := time.Now()
	addr := "DepositAddr111"

	closerAmount := pendingDeposit("100", now, nil)
	addressMatch := pendingDeposit("100.3", now, &addr)

	got := m.Match([]*entities.StarDeposit{closerAmount, addressMatch}, dec("100"), &addr)
	require.NotNil(t, got)
	assert.Equal(t, addressMatch.ID, got.ID)
}

func TestMatchFallsBackToAmountWhenAddressMisses(t *testing.T) {
	m := NewMatcher(50)
	now := time.Now()
	other := "OtherAddr"
	transferAddr := "DepositAddr111"

	amountOnly := pendingDeposit("100", now, nil)
	wrongAddress := pendingDeposit("100", now, &other)

	got := m.Match([]*entities.StarDeposit{wrongAddress, amountOnly}, dec("100"), &transferAddr)
	require.NotNil(t, got)
}

func TestMatchReturnsNilOutsideTolerance(t *testing.T) {
	m := NewMatcher(50)
	d := pendingDeposit("100", time.Now(), nil)

	got := m.Match([]*entities.StarDeposit{d}, dec("105"), nil)
	assert.Nil(t, got)
}
