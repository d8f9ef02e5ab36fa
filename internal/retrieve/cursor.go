// Package retrieve holds the cursor-walking helpers adapters use to
// assemble a snapshot or an incremental slice from a paged or
// monotonic-ID-ordered remote feed.
package retrieve

import (
	"encoding/json"
	"fmt"
)

// FeedCursor is the structured per-endpoint context persisted between
// cycles of an unbounded monotonic-ID feed. It replaces the old
// delimiter-joined string encoding, which had no escaping and silently
// corrupted on any value containing the delimiter.
type FeedCursor struct {
	// HighWaterMark is the largest ID ever observed; records at or below
	// it that the backfill already covered are never re-emitted.
	HighWaterMark int64 `json:"high_water_mark"`
	// BackfillLow is the lowest ID the backward walk has reached so far.
	// Records below it are still owed to the store.
	BackfillLow int64 `json:"backfill_low,omitempty"`
	// BackfillDone is set once the backward walk has hit the end of the
	// provider's history (an empty page).
	BackfillDone bool `json:"backfill_done,omitempty"`
}

// ParseFeedCursor decodes a persisted cursor. The empty string is the
// initial cursor.
func ParseFeedCursor(s string) (FeedCursor, error) {
	if s == "" {
		return FeedCursor{}, nil
	}
	var c FeedCursor
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return FeedCursor{}, fmt.Errorf("failed to parse feed cursor: %w", err)
	}
	return c, nil
}

func (c FeedCursor) String() string {
	data, err := json.Marshal(c)
	if err != nil {
		// FeedCursor has no unmarshalable fields.
		panic(err)
	}
	return string(data)
}

// SnapshotCursor is the persisted context for snapshot endpoints that
// support conditional fetches: the validator of the last snapshot seen.
type SnapshotCursor struct {
	ETag string `json:"etag,omitempty"`
}

func ParseSnapshotCursor(s string) (SnapshotCursor, error) {
	if s == "" {
		return SnapshotCursor{}, nil
	}
	var c SnapshotCursor
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return SnapshotCursor{}, fmt.Errorf("failed to parse snapshot cursor: %w", err)
	}
	return c, nil
}

func (c SnapshotCursor) String() string {
	data, err := json.Marshal(c)
	if err != nil {
		panic(err)
	}
	return string(data)
}
