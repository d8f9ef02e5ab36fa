package store

import (
	"time"

	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/model"
)

// Finish is the atomic result of one synchronization attempt: the
// tracker's terminal transition, the endpoint's next scheduled expiry,
// and the entity writes collected by reconciliation. A backend commits
// all three or none.
type Finish struct {
	Tracker *model.Tracker
	Expiry  time.Time
	Changes ChangeSet
}
