package extract

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidora/stars-service/internal/domain/entities"
)

func TestScanAddressesClassifiesFamilies(t *testing.T) {
	payload := []byte(`{
		"solana": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		"nested": {"evm": "0x52908400098527886E0F7030069857D2E4169EE7"},
		"list": [{"tron": "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"}],
		"noise": ["hello", "0x1234", 42, null, true]
	}`)

	found, err := NewExtractor().ScanAddresses(payload)
	require.NoError(t, err)

	assert.Equal(t, []string{"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"}, found[entities.AddressFamilyBase58])
	assert.Equal(t, []string{"0x52908400098527886E0F7030069857D2E4169EE7"}, found[entities.AddressFamilyEVM])
	assert.Equal(t, []string{"TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"}, found[entities.AddressFamilyTron])
}

func TestScanAddressesDeduplicates(t *testing.T) {
	addr := "0x52908400098527886E0F7030069857D2E4169EE7"
	payload := []byte(fmt.Sprintf(`{"a": %q, "b": %q, "c": [%q]}`, addr, addr, addr))

	found, err := NewExtractor().ScanAddresses(payload)
	require.NoError(t, err)
	assert.Len(t, found[entities.AddressFamilyEVM], 1)
}

func TestScanAddressesCapsPerFamily(t *testing.T) {
	// 80 distinct EVM addresses; only 50 survive.
	addrs := make([]string, 80)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("0x%040x", i+1)
	}
	payload, err := json.Marshal(map[string]interface{}{"addresses": addrs})
	require.NoError(t, err)

	found, err := NewExtractor().ScanAddresses(payload)
	require.NoError(t, err)
	assert.Len(t, found[entities.AddressFamilyEVM], MaxAddressesPerFamily)
}

func TestScanAddressesRejectsInvalidJSON(t *testing.T) {
	_, err := NewExtractor().ScanAddresses([]byte(`{not json`))
	assert.Error(t, err)
}

func TestClassifyAddressBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		family entities.AddressFamily
		ok     bool
	}{
		{"base58 min length 32", "11111111111111111111111111111112", entities.AddressFamilyBase58, true},
		{"base58 too short", "1111111111111111111111111111111", "", false},
		{"base58 forbidden chars", "0OIl1111111111111111111111111111", "", false},
		{"evm lower", "0xde709f2102306220921060314715629080e2fb77", entities.AddressFamilyEVM, true},
		{"evm 39 hex chars", "0xde709f2102306220921060314715629080e2fb7", "", false},
		{"evm 41 hex chars", "0xde709f2102306220921060314715629080e2fb777", "", false},
		{"tron", "TLsV52sRDL79HXGGm9yzwKibb6BeruhUzy", entities.AddressFamilyTron, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			family, ok := classifyAddress(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.family, family)
			}
		})
	}
}
