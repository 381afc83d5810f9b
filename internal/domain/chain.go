package domain

// Chain identifies the network a token trades on.
type Chain string

const (
	ChainSolana   Chain = "solana"
	ChainEthereum Chain = "ethereum"
	ChainBase     Chain = "base"
	ChainBSC      Chain = "bsc"
)

// String returns the string representation of Chain.
func (c Chain) String() string {
	return string(c)
}

// IsValid checks if the chain is a supported value.
func (c Chain) IsValid() bool {
	switch c {
	case ChainSolana, ChainEthereum, ChainBase, ChainBSC:
		return true
	}
	return false
}

// IsEVM reports whether the chain uses 20-byte hex addresses.
func (c Chain) IsEVM() bool {
	return c == ChainEthereum || c == ChainBase || c == ChainBSC
}
