// Package ledger persists the set of record ids that have completed
// migration. A record whose id is in the ledger is never retransferred;
// an id is removed only by editing the store out of band.
package ledger

// Store defines the interface for ledger persistence. Add must complete
// its durable write before returning, and adding an already-present id is
// a no-op.
type Store interface {
	Contains(id string) (bool, error)
	Add(id string) error
	Snapshot() ([]string, error)
	Count() (int64, error)
	Close() error
}
