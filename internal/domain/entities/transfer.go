package entities

import (
	"github.com/shopspring/decimal"
)

// ExtractedTransfer is one value movement parsed out of a provider payload
type ExtractedTransfer struct {
	Chain       Chain
	Asset       Asset
	Amount      decimal.Decimal
	TxHash      string
	ToAddress   *string
	FromAddress *string
}

// ExtractResult is the output of parsing one webhook payload: the
// transfers recognized from the provider schema plus every address-shaped
// string found anywhere in the document, grouped by grammar family.
type ExtractResult struct {
	Transfers []ExtractedTransfer
	Addresses map[AddressFamily][]string
}

// ErrorResponse is the wire shape for error replies
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
