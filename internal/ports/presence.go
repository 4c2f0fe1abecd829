package ports

import "time"

// Presence reports when an actor was last seen by the host. The purge sweep only removes
// actors it has a last-seen time for.
type Presence interface {
	LastSeen(actor string) (time.Time, bool)
}
