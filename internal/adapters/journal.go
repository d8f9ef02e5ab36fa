package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/auth"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/esync"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/model"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/retrieve"
)

// journalFeedCap bounds how many journal entries one sync cycle may
// ingest; a larger backlog carries over to following cycles.
const journalFeedCap = 2560

// JournalEntry is one immutable wallet journal record.
type JournalEntry struct {
	RefID       int64       `json:"ref_id"`
	Date        time.Time   `json:"date"`
	RefType     string      `json:"ref_type"`
	Amount      json.Number `json:"amount"`
	Balance     json.Number `json:"balance"`
	Description string      `json:"description"`
}

func (e JournalEntry) IdentityKey() model.Key {
	return model.JoinKey(strconv.FormatInt(e.RefID, 10))
}

// Equivalent is existence for journal entries: the feed is immutable,
// so two records with one ref ID are the same record.
func (e JournalEntry) Equivalent(other model.Entity) bool {
	o, ok := other.(JournalEntry)
	return ok && e.RefID == o.RefID
}

func (e JournalEntry) FeedID() int64 { return e.RefID }

// WalletJournalAdapter synchronizes the wallet journal, an append-only
// monotonic-ID feed with no complete-export call. Each cycle runs the
// two-directional walk and persists the structured feed cursor as the
// next sync context.
type WalletJournalAdapter struct {
	Client *Client
}

func (WalletJournalAdapter) Endpoint() model.Endpoint { return model.EndpointWalletJournal }

func (WalletJournalAdapter) Scope() string { return "esi-wallet.read_character_wallet.v1" }

func (WalletJournalAdapter) Codec() model.Codec { return jsonCodec[JournalEntry]{} }

func (a WalletJournalAdapter) Fetch(ctx context.Context, acct *model.SyncAccount, cred auth.Credentials, prior string) (*esync.Snapshot, error) {
	cursor, err := retrieve.ParseFeedCursor(prior)
	if err != nil {
		return nil, fmt.Errorf("journal cursor: %w", err)
	}

	path := fmt.Sprintf("characters/%d/wallet/journal", acct.CharacterID)
	var expires time.Time

	fetch := func(ctx context.Context, q url.Values) ([]JournalEntry, error) {
		resp, err := a.Client.Get(ctx, a.Endpoint(), path, q, cred, "")
		if err != nil {
			return nil, err
		}
		if resp.Expires.After(expires) {
			expires = resp.Expires
		}
		var rows []JournalEntry
		if err := json.Unmarshal(resp.Body, &rows); err != nil {
			return nil, &esync.ProviderError{Status: resp.Status, Message: fmt.Sprintf("malformed journal page: %v", err)}
		}
		return rows, nil
	}

	result, err := retrieve.WalkFeed(ctx, cursor, journalFeedCap,
		func(ctx context.Context) ([]JournalEntry, error) {
			return fetch(ctx, nil)
		},
		func(ctx context.Context, beforeID int64) ([]JournalEntry, error) {
			q := url.Values{"before_id": []string{strconv.FormatInt(beforeID, 10)}}
			return fetch(ctx, q)
		},
	)
	if err != nil {
		return nil, err
	}

	entities := make([]model.Entity, len(result.Records))
	for i, r := range result.Records {
		entities[i] = r
	}
	snap := &esync.Snapshot{
		Entities:   entities,
		Expires:    expires,
		Context:    result.Cursor.String(),
		AppendOnly: true,
	}
	if result.CapHit {
		snap.Warning = fmt.Sprintf("journal backlog exceeds %d records per cycle, continuing next cycle", journalFeedCap)
	}
	return snap, nil
}
