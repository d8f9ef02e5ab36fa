package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/auth"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/esync"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/model"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/retrieve"
)

// Asset is one owned item.
type Asset struct {
	ItemID       int64  `json:"item_id"`
	TypeID       int32  `json:"type_id"`
	LocationID   int64  `json:"location_id"`
	LocationFlag string `json:"location_flag"`
	Quantity     int32  `json:"quantity"`
}

func (a Asset) IdentityKey() model.Key {
	return model.JoinKey(strconv.FormatInt(a.ItemID, 10))
}

func (a Asset) Equivalent(other model.Entity) bool {
	o, ok := other.(Asset)
	return ok && a == o
}

// AssetsAdapter synchronizes the full asset list, a paged snapshot
// endpoint: the provider reports the page count in X-Pages and the
// bounded paged retrieval walks them all before reconciling.
type AssetsAdapter struct {
	Client *Client
}

func (AssetsAdapter) Endpoint() model.Endpoint { return model.EndpointAssets }

func (AssetsAdapter) Scope() string { return "esi-assets.read_assets.v1" }

func (AssetsAdapter) Codec() model.Codec { return jsonCodec[Asset]{} }

func (a AssetsAdapter) Fetch(ctx context.Context, acct *model.SyncAccount, cred auth.Credentials, prior string) (*esync.Snapshot, error) {
	path := fmt.Sprintf("characters/%d/assets", acct.CharacterID)

	items, expires, err := retrieve.AllPages(ctx, func(ctx context.Context, page int) (retrieve.Page[Asset], error) {
		q := url.Values{"page": []string{strconv.Itoa(page)}}
		resp, err := a.Client.Get(ctx, a.Endpoint(), path, q, cred, "")
		if err != nil {
			return retrieve.Page[Asset]{}, err
		}
		var rows []Asset
		if err := json.Unmarshal(resp.Body, &rows); err != nil {
			return retrieve.Page[Asset]{}, &esync.ProviderError{Status: resp.Status, Message: fmt.Sprintf("malformed assets page: %v", err)}
		}
		return retrieve.Page[Asset]{
			Items:   rows,
			Expires: resp.Expires,
			More:    page < resp.Pages,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	entities := make([]model.Entity, len(items))
	for i, r := range items {
		entities[i] = r
	}
	return &esync.Snapshot{
		Entities: entities,
		Expires:  expires,
	}, nil
}
