package domain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ErrInvalidAddress is returned when an address does not match its chain format.
var ErrInvalidAddress = errors.New("invalid address")

// ValidateAddress checks that addr is well formed for chain.
func ValidateAddress(chain Chain, addr string) error {
	switch {
	case chain == ChainSolana:
		b, err := base58.Decode(addr)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		if len(b) != 32 {
			return fmt.Errorf("%w: decoded length %d", ErrInvalidAddress, len(b))
		}
		return nil
	case chain.IsEVM():
		if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
			return fmt.Errorf("%w: want 0x-prefixed 20 byte hex", ErrInvalidAddress)
		}
		if _, err := hex.DecodeString(addr[2:]); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported chain %q", ErrInvalidAddress, chain)
	}
}

// IsWalletAddress reports whether addr can be a user wallet on chain.
// Solana wallets are ed25519 public keys and must lie on the curve;
// program-derived addresses never do.
func IsWalletAddress(chain Chain, addr string) bool {
	if err := ValidateAddress(chain, addr); err != nil {
		return false
	}
	if chain != ChainSolana {
		return true
	}
	b, _ := base58.Decode(addr)
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
