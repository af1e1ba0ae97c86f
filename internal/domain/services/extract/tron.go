package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vidora/stars-service/internal/domain/entities"
)

// TronGridEvent is the TronGrid webhook body for TRC-20 transfer events
type TronGridEvent struct {
	TransactionID     string              `json:"transactionId"`
	Timestamp         int64               `json:"timestamp"`
	Contract          string              `json:"contractAddress"`
	TRC20TransferInfo []TronTransferInfo  `json:"trc20TransferInfo"`
	ContractCalls     []TronContractCall  `json:"contract"`
}

// TronTransferInfo is one TRC-20 movement in base units
type TronTransferInfo struct {
	FromAddress     string `json:"from_address"`
	ToAddress       string `json:"to_address"`
	AmountStr       string `json:"amount_str"`
	Decimals        int32  `json:"decimals"`
	Symbol          string `json:"symbol"`
	ContractAddress string `json:"contract_address"`
}

// TronContractCall carries native TRX transfer values
type TronContractCall struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount"` // sun
	From   string `json:"owner_address"`
	To     string `json:"to_address"`
}

var sunPerTrx = decimal.NewFromInt(1_000_000)

// ParseTronGrid extracts transfers from a TronGrid webhook body
func ParseTronGrid(payload []byte) ([]entities.ExtractedTransfer, error) {
	var event TronGridEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to decode trongrid payload: %w", err)
	}
	if event.TransactionID == "" {
		return nil, fmt.Errorf("trongrid payload missing transactionId")
	}

	var transfers []entities.ExtractedTransfer

	for _, info := range event.TRC20TransferInfo {
		asset, ok := tronSymbolAsset(info.Symbol)
		if !ok {
			continue
		}
		raw, err := decimal.NewFromString(info.AmountStr)
		if err != nil || !raw.IsPositive() {
			continue
		}
		amount := raw.Shift(-info.Decimals)
		transfers = append(transfers, entities.ExtractedTransfer{
			Chain:       entities.ChainTron,
			Asset:       asset,
			Amount:      amount,
			TxHash:      event.TransactionID,
			ToAddress:   optional(info.ToAddress),
			FromAddress: optional(info.FromAddress),
		})
	}

	for _, call := range event.ContractCalls {
		if call.Type != "TransferContract" || call.Amount <= 0 {
			continue
		}
		transfers = append(transfers, entities.ExtractedTransfer{
			Chain:       entities.ChainTron,
			Asset:       entities.AssetTRX,
			Amount:      decimal.NewFromInt(call.Amount).Div(sunPerTrx),
			TxHash:      event.TransactionID,
			ToAddress:   optional(call.To),
			FromAddress: optional(call.From),
		})
	}

	return transfers, nil
}

func tronSymbolAsset(symbol string) (entities.Asset, bool) {
	switch strings.ToUpper(symbol) {
	case "USDT":
		return entities.AssetUSDT, true
	case "USDC":
		return entities.AssetUSDC, true
	default:
		return "", false
	}
}
