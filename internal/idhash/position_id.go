package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputePositionID computes a deterministic position_id using SHA256.
// Formula: SHA256(chain|address|pool|opened_at)
// Returns hex-encoded hash (64 characters).
func ComputePositionID(
	chain string,
	address string,
	pool string,
	openedAt int64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d",
		chain,
		address,
		pool,
		openedAt,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
