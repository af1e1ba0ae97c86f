package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vidora/stars-service/internal/domain/entities"
)

// EVMTransfer is one entry in the generic chain-endpoint transfer list
type EVMTransfer struct {
	Hash     string `json:"hash"`
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"` // base units as a decimal string
	Asset    string `json:"asset"`
	Decimals int32  `json:"decimals"`
}

type evmEnvelope struct {
	Transfers []EVMTransfer   `json:"transfers"`
	Payload   json.RawMessage `json:"payload"`
}

// ParseEVM extracts transfers from the generic chain webhook payload.
// The payload carries a transfers list with base-unit string values; the
// chain comes from the request envelope, not the payload. A document
// that nests the list one level down under payload (the full request
// envelope) is unwrapped too.
func ParseEVM(chain entities.Chain, payload []byte) ([]entities.ExtractedTransfer, error) {
	var envelope evmEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode evm payload: %w", err)
	}
	if len(envelope.Transfers) == 0 && len(envelope.Payload) > 0 {
		var inner evmEnvelope
		if err := json.Unmarshal(envelope.Payload, &inner); err == nil {
			envelope.Transfers = inner.Transfers
		}
	}

	var transfers []entities.ExtractedTransfer
	for _, t := range envelope.Transfers {
		if t.Hash == "" {
			continue
		}
		asset := entities.Asset(strings.ToUpper(t.Asset))
		if !asset.IsValid() {
			continue
		}
		raw, err := decimal.NewFromString(t.Value)
		if err != nil || !raw.IsPositive() {
			continue
		}
		transfers = append(transfers, entities.ExtractedTransfer{
			Chain:       chain,
			Asset:       asset,
			Amount:      raw.Shift(-t.Decimals),
			TxHash:      t.Hash,
			ToAddress:   optional(t.To),
			FromAddress: optional(t.From),
		})
	}

	return transfers, nil
}
