package adapters

import "github.com/OrbitalEnterprises/evekit-sync-sub007/internal/esync"

// All returns one adapter per synchronized endpoint. Adapters are
// stateless values sharing one client; a single slice serves every
// account concurrently.
func All(client *Client) []esync.Adapter {
	return []esync.Adapter{
		WalletBalanceAdapter{Client: client},
		WalletJournalAdapter{Client: client},
		AssetsAdapter{Client: client},
	}
}
