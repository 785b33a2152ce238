package storage

import "context"

// Transactor runs functions against the document store. Domain services
// depend on it rather than on *BboltStorage.
type Transactor interface {
	View(ctx context.Context, fn func(tx *Tx) error) error
	Update(ctx context.Context, fn func(tx *Tx) error) error
}

var _ Transactor = (*BboltStorage)(nil)
