package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(seq|event_type|position_id|at)
// position_id is empty for events that do not belong to a position.
func ComputeEventID(
	seq int64,
	eventType string,
	positionID string,
	at int64,
) string {
	data := fmt.Sprintf("%d|%s|%s|%d",
		seq,
		eventType,
		positionID,
		at,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
