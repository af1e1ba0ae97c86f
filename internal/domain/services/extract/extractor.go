// Package extract turns provider webhook payloads into transfer
// candidates. Two passes run over every payload: a schema-aware parse of
// the provider's transfer lists, and a schema-agnostic scan that collects
// every address-shaped string anywhere in the document. The generic scan
// feeds the NFT-gate resync; the parsed transfers feed deposit matching.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/vidora/stars-service/internal/domain/entities"
)

// MaxAddressesPerFamily caps how many addresses the generic scan keeps
// per grammar family from a single payload.
const MaxAddressesPerFamily = 50

var (
	// Base58 grammar used by Solana account keys (32-44 chars, no 0OIl).
	base58Pattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

	// EVM address: 0x followed by exactly 40 hex chars.
	evmPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

	// Tron base58check addresses start with T and run 34 chars.
	tronPattern = regexp.MustCompile(`^T[1-9A-HJ-NP-Za-km-z]{33}$`)
)

// Extractor scans payloads for address-shaped strings
type Extractor struct {
	maxPerFamily int
}

// NewExtractor creates an extractor with the default per-family cap
func NewExtractor() *Extractor {
	return &Extractor{maxPerFamily: MaxAddressesPerFamily}
}

// ScanAddresses walks the decoded JSON document and collects every
// string matching a known address grammar, grouped by family, deduped,
// capped per family. Unparseable payloads return an error; the caller
// records the delivery as invalid.
func (e *Extractor) ScanAddresses(payload []byte) (map[entities.AddressFamily][]string, error) {
	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	found := map[entities.AddressFamily][]string{}
	seen := map[entities.AddressFamily]map[string]bool{}

	var walk func(node interface{})
	walk = func(node interface{}) {
		switch v := node.(type) {
		case string:
			family, ok := classifyAddress(v)
			if !ok {
				return
			}
			if seen[family] == nil {
				seen[family] = map[string]bool{}
			}
			if seen[family][v] || len(found[family]) >= e.maxPerFamily {
				return
			}
			seen[family][v] = true
			found[family] = append(found[family], v)
		case map[string]interface{}:
			for _, child := range v {
				walk(child)
			}
		case []interface{}:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(doc)

	return found, nil
}

// classifyAddress reports the grammar family of an address-shaped string.
// Tron is checked before generic base58: every Tron address is also valid
// base58 of the right length.
func classifyAddress(s string) (entities.AddressFamily, bool) {
	switch {
	case tronPattern.MatchString(s):
		return entities.AddressFamilyTron, true
	case evmPattern.MatchString(s):
		return entities.AddressFamilyEVM, true
	case base58Pattern.MatchString(s):
		return entities.AddressFamilyBase58, true
	default:
		return "", false
	}
}
