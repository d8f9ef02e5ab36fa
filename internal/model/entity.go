package model

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Endpoint names one independently synchronized data category of the
// remote provider.
type Endpoint string

const (
	EndpointWalletBalance Endpoint = "wallet_balance"
	EndpointWalletJournal Endpoint = "wallet_journal"
	EndpointAssets        Endpoint = "assets"
)

// Key is the natural identity of a logical entity within one
// (account, endpoint). Composite keys are built with JoinKey so a part
// containing the separator can never corrupt ordering or parsing.
type Key string

const keySeparator = "|"

func JoinKey(parts ...string) Key {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.QueryEscape(p)
	}
	return Key(strings.Join(escaped, keySeparator))
}

func (k Key) Parts() []string {
	raw := strings.Split(string(k), keySeparator)
	parts := make([]string, len(raw))
	for i, p := range raw {
		unescaped, err := url.QueryUnescape(p)
		if err != nil {
			// JoinKey only emits query-escaped parts, so a failure here
			// means the key was not built with JoinKey; return it as-is.
			unescaped = p
		}
		parts[i] = unescaped
	}
	return parts
}

// Entity is the capability every synchronized payload kind implements.
// Reconciliation is written once against this interface; there is no
// per-kind type dispatch anywhere in the core.
type Entity interface {
	// IdentityKey distinguishes this logical entity from others of the
	// same kind within one account.
	IdentityKey() Key
	// Equivalent reports whether other carries an equal payload. A fetched
	// snapshot equivalent to the live version must not create a new one.
	Equivalent(other Entity) bool
}

// Codec converts between an endpoint's payload kind and its stored form.
// Each adapter supplies the codec for its own kind.
type Codec interface {
	Encode(e Entity) ([]byte, error)
	Decode(payload []byte) (Entity, error)
}

// Version is one stored bitemporal version of an entity. Its validity
// interval is half-open [LifeStart, LifeEnd); a zero LifeEnd means the
// version is currently live.
type Version struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	Endpoint  Endpoint  `json:"endpoint"`
	Key       Key       `json:"key"`
	Payload   []byte    `json:"payload"`
	LifeStart time.Time `json:"life_start"`
	LifeEnd   time.Time `json:"life_end,omitzero"`
}

// Live reports whether the version is currently live (open-ended).
func (v *Version) Live() bool {
	return v.LifeEnd.IsZero()
}

// LiveAt reports whether asOf falls inside the version's [start, end)
// validity interval.
func (v *Version) LiveAt(asOf time.Time) bool {
	if v.LifeStart.After(asOf) {
		return false
	}
	return v.LifeEnd.IsZero() || v.LifeEnd.After(asOf)
}
