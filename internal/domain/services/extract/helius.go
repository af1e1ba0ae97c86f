package extract

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vidora/stars-service/internal/domain/entities"
)

// Well-known SPL token mints we accept for deposits
var solanaMintAssets = map[string]entities.Asset{
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": entities.AssetUSDC,
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": entities.AssetUSDT,
}

var lamportsPerSol = decimal.NewFromInt(1_000_000_000)

// HeliusTransaction is the enhanced-transaction shape Helius pushes
type HeliusTransaction struct {
	Signature       string                 `json:"signature"`
	Type            string                 `json:"type"`
	Timestamp       int64                  `json:"timestamp"`
	NativeTransfers []HeliusNativeTransfer `json:"nativeTransfers"`
	TokenTransfers  []HeliusTokenTransfer  `json:"tokenTransfers"`
}

// HeliusNativeTransfer is one SOL movement, amount in lamports
type HeliusNativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"`
}

// HeliusTokenTransfer is one SPL token movement in UI units
type HeliusTokenTransfer struct {
	FromUserAccount string  `json:"fromUserAccount"`
	ToUserAccount   string  `json:"toUserAccount"`
	TokenAmount     float64 `json:"tokenAmount"`
	Mint            string  `json:"mint"`
}

type heliusEnvelope struct {
	Transactions []HeliusTransaction `json:"transactions"`
}

// ParseHelius extracts transfers from a Helius webhook body. Helius sends
// either a bare array of enhanced transactions or a {transactions: [...]}
// wrapper; both are accepted.
func ParseHelius(payload []byte) ([]entities.ExtractedTransfer, error) {
	var txs []HeliusTransaction
	if err := json.Unmarshal(payload, &txs); err != nil {
		var envelope heliusEnvelope
		if err2 := json.Unmarshal(payload, &envelope); err2 != nil {
			return nil, fmt.Errorf("failed to decode helius payload: %w", err)
		}
		txs = envelope.Transactions
	}

	var transfers []entities.ExtractedTransfer
	for _, tx := range txs {
		if tx.Signature == "" {
			continue
		}

		for _, nt := range tx.NativeTransfers {
			if nt.Amount <= 0 {
				continue
			}
			transfers = append(transfers, entities.ExtractedTransfer{
				Chain:       entities.ChainSolana,
				Asset:       entities.AssetSOL,
				Amount:      decimal.NewFromInt(nt.Amount).Div(lamportsPerSol),
				TxHash:      tx.Signature,
				ToAddress:   optional(nt.ToUserAccount),
				FromAddress: optional(nt.FromUserAccount),
			})
		}

		for _, tt := range tx.TokenTransfers {
			asset, ok := solanaMintAssets[tt.Mint]
			if !ok || tt.TokenAmount <= 0 {
				continue
			}
			transfers = append(transfers, entities.ExtractedTransfer{
				Chain:       entities.ChainSolana,
				Asset:       asset,
				Amount:      decimal.NewFromFloat(tt.TokenAmount),
				TxHash:      tx.Signature,
				ToAddress:   optional(tt.ToUserAccount),
				FromAddress: optional(tt.FromUserAccount),
			})
		}
	}

	return transfers, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
