package entities

// Provider identifies the webhook source pushing chain events to us
type Provider string

const (
	ProviderHelius    Provider = "HELIUS"
	ProviderTronGrid  Provider = "TRONGRID"
	ProviderAlchemy   Provider = "ALCHEMY"
	ProviderQuicknode Provider = "QUICKNODE"

	// ProviderManual marks deliveries replayed by an operator rather
	// than pushed by a provider.
	ProviderManual Provider = "MANUAL"
)

// ValidProviders contains all accepted webhook providers
var ValidProviders = map[Provider]bool{
	ProviderHelius:    true,
	ProviderTronGrid:  true,
	ProviderAlchemy:   true,
	ProviderQuicknode: true,
	ProviderManual:    true,
}

// IsValid checks if the provider is supported
func (p Provider) IsValid() bool {
	return ValidProviders[p]
}

// Chain represents a supported blockchain network
type Chain string

const (
	ChainSolana   Chain = "SOLANA"
	ChainTron     Chain = "TRON"
	ChainEthereum Chain = "ETHEREUM"
	ChainPolygon  Chain = "POLYGON"
	ChainBSC      Chain = "BSC"
	ChainBase     Chain = "BASE"
)

// ValidChains contains all supported chains
var ValidChains = map[Chain]bool{
	ChainSolana:   true,
	ChainTron:     true,
	ChainEthereum: true,
	ChainPolygon:  true,
	ChainBSC:      true,
	ChainBase:     true,
}

// IsValid checks if the chain is supported
func (c Chain) IsValid() bool {
	return ValidChains[c]
}

// AddressFamily returns the address grammar family used on this chain
func (c Chain) AddressFamily() AddressFamily {
	switch c {
	case ChainSolana:
		return AddressFamilyBase58
	case ChainTron:
		return AddressFamilyTron
	default:
		return AddressFamilyEVM
	}
}

// Asset represents a transferable asset we accept for star deposits
type Asset string

const (
	AssetSOL  Asset = "SOL"
	AssetTRX  Asset = "TRX"
	AssetETH  Asset = "ETH"
	AssetUSDC Asset = "USDC"
	AssetUSDT Asset = "USDT"
)

// ValidAssets contains all accepted deposit assets
var ValidAssets = map[Asset]bool{
	AssetSOL:  true,
	AssetTRX:  true,
	AssetETH:  true,
	AssetUSDC: true,
	AssetUSDT: true,
}

// IsValid checks if the asset is accepted
func (a Asset) IsValid() bool {
	return ValidAssets[a]
}

// AddressFamily groups addresses by grammar for the extractor
type AddressFamily string

const (
	AddressFamilyBase58 AddressFamily = "base58"
	AddressFamilyEVM    AddressFamily = "evm"
	AddressFamilyTron   AddressFamily = "tron"
)
