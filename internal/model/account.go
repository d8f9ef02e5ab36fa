package model

import (
	"time"

	"github.com/google/uuid"
)

// SyncAccount is one tracked provider account.
type SyncAccount struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	CharacterID int64     `json:"character_id"`
	AccessToken string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Container is the account-scoped aggregate of per-endpoint scheduled
// expiries. It lets the synchronizer decide whether an endpoint is due
// for refresh without touching the tracker.
type Container struct {
	AccountID uuid.UUID              `json:"account_id"`
	Expiries  map[Endpoint]time.Time `json:"expiries"`
}

func NewContainer(accountID uuid.UUID) *Container {
	return &Container{
		AccountID: accountID,
		Expiries:  make(map[Endpoint]time.Time),
	}
}

// Due reports whether the endpoint's scheduled expiry has elapsed. An
// endpoint with no recorded expiry is always due.
func (c *Container) Due(ep Endpoint, now time.Time) bool {
	exp, ok := c.Expiries[ep]
	if !ok {
		return true
	}
	return !exp.After(now)
}
