package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/auth"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/esync"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/model"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/retrieve"
)

// WalletBalance is one wallet division's balance. Amounts stay as
// json.Number end to end so no precision is lost to float rounding.
type WalletBalance struct {
	Division int         `json:"division"`
	Balance  json.Number `json:"balance"`
}

func (b WalletBalance) IdentityKey() model.Key {
	return model.JoinKey(strconv.Itoa(b.Division))
}

func (b WalletBalance) Equivalent(other model.Entity) bool {
	o, ok := other.(WalletBalance)
	return ok && b.Division == o.Division && b.Balance == o.Balance
}

// WalletBalanceAdapter synchronizes the wallet balance snapshot. The
// endpoint supports conditional fetches, so the previous ETag rides in
// the sync context and an unchanged snapshot costs no reconcile.
type WalletBalanceAdapter struct {
	Client *Client
}

func (WalletBalanceAdapter) Endpoint() model.Endpoint { return model.EndpointWalletBalance }

func (WalletBalanceAdapter) Scope() string { return "esi-wallet.read_character_wallet.v1" }

func (WalletBalanceAdapter) Codec() model.Codec { return jsonCodec[WalletBalance]{} }

func (a WalletBalanceAdapter) Fetch(ctx context.Context, acct *model.SyncAccount, cred auth.Credentials, prior string) (*esync.Snapshot, error) {
	cursor, err := retrieve.ParseSnapshotCursor(prior)
	if err != nil {
		// A corrupt cursor only costs one unconditional fetch.
		cursor = retrieve.SnapshotCursor{}
	}

	path := fmt.Sprintf("characters/%d/wallets", acct.CharacterID)
	resp, err := a.Client.Get(ctx, a.Endpoint(), path, nil, cred, cursor.ETag)
	if err != nil {
		return nil, err
	}
	if resp.NotModified {
		return &esync.Snapshot{
			Unchanged: true,
			Expires:   resp.Expires,
			Context:   cursor.String(),
		}, nil
	}

	var rows []WalletBalance
	if err := json.Unmarshal(resp.Body, &rows); err != nil {
		return nil, &esync.ProviderError{Status: resp.Status, Message: fmt.Sprintf("malformed wallet response: %v", err)}
	}

	entities := make([]model.Entity, len(rows))
	for i, r := range rows {
		entities[i] = r
	}
	return &esync.Snapshot{
		Entities: entities,
		Expires:  resp.Expires,
		Context:  retrieve.SnapshotCursor{ETag: resp.ETag}.String(),
	}, nil
}
