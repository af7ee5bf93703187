package progression

import (
	"time"

	"github.com/google/uuid"
)

// GuardKey identifies one rewardable event.
type GuardKey struct {
	UserID   string
	Source   Source
	SourceID string
}

// Bypassed reports whether the key carries no source id. Such awards are
// repeatable and never touch the guard store.
func (k GuardKey) Bypassed() bool {
	return k.SourceID == ""
}

// GuardRecord is the durable marker that the award for Key was applied.
// Amount and Reason are kept for audit and never read back by the engine.
type GuardRecord struct {
	ID        string
	Key       GuardKey
	Amount    int64
	Reason    string
	ClaimedAt time.Time
}

// NewGuardRecord creates a record with a fresh id.
func NewGuardRecord(key GuardKey, amount int64, reason string, now time.Time) GuardRecord {
	return GuardRecord{
		ID:        uuid.NewString(),
		Key:       key,
		Amount:    amount,
		Reason:    reason,
		ClaimedAt: now.UTC(),
	}
}
