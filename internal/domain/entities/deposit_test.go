package entities

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStarDepositStatusTransitions(t *testing.T) {
	tests := []struct {
		from    StarDepositStatus
		to      StarDepositStatus
		allowed bool
	}{
		{StarDepositStatusPending, StarDepositStatusMatched, true},
		{StarDepositStatusPending, StarDepositStatusCredited, true},
		{StarDepositStatusPending, StarDepositStatusExpired, true},
		{StarDepositStatusMatched, StarDepositStatusCredited, true},
		{StarDepositStatusCredited, StarDepositStatusFailed, true}, // refund
		{StarDepositStatusCredited, StarDepositStatusPending, false},
		{StarDepositStatusCredited, StarDepositStatusExpired, false},
		{StarDepositStatusFailed, StarDepositStatusPending, false},
		{StarDepositStatusFailed, StarDepositStatusCredited, false},
		{StarDepositStatusExpired, StarDepositStatusCredited, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, StarDepositStatusFailed.IsTerminal())
	assert.True(t, StarDepositStatusExpired.IsTerminal())
	// Credited can still be refunded, so it is not terminal.
	assert.False(t, StarDepositStatusCredited.IsTerminal())
	assert.False(t, StarDepositStatusPending.IsTerminal())
}

func TestNewStarDepositDefaults(t *testing.T) {
	d := NewStarDeposit(uuid.New(), ChainTron, AssetUSDT, decimal.RequireFromString("25"), nil)

	assert.Equal(t, StarDepositStatusPending, d.Status)
	assert.False(t, d.IsExpired(time.Now()))
	assert.True(t, d.IsExpired(time.Now().Add(DepositTimeoutHours*time.Hour+time.Minute)))
}

func TestMarkCredited(t *testing.T) {
	d := NewStarDeposit(uuid.New(), ChainSolana, AssetUSDC, decimal.RequireFromString("100"), nil)

	require.NoError(t, d.MarkCredited("tx1", decimal.RequireFromString("100.2")))
	assert.Equal(t, StarDepositStatusCredited, d.Status)
	require.NotNil(t, d.TxHash)
	assert.Equal(t, "tx1", *d.TxHash)
	require.NotNil(t, d.CreditedAt)

	// A second credit attempt is rejected by the state machine.
	assert.Error(t, d.MarkCredited("tx2", decimal.RequireFromString("100.2")))
}

func TestChainAddressFamilies(t *testing.T) {
	assert.Equal(t, AddressFamilyBase58, ChainSolana.AddressFamily())
	assert.Equal(t, AddressFamilyTron, ChainTron.AddressFamily())
	assert.Equal(t, AddressFamilyEVM, ChainEthereum.AddressFamily())
	assert.Equal(t, AddressFamilyEVM, ChainPolygon.AddressFamily())
	assert.Equal(t, AddressFamilyEVM, ChainBSC.AddressFamily())
}
