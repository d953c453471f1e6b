package state

import (
	"context"
	"errors"
)

// ErrNotConfigured indicates the store backend was not initialised.
var ErrNotConfigured = errors.New("state: store not configured")

// Store persists the monitor state document. Load substitutes an empty
// document when none exists or the stored one cannot be decoded; Save must
// replace the whole document atomically, since a torn write risks duplicate
// or missed alerts.
type Store interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc *Document) error
	Close()
}

// SweepLocker is implemented by backends that can serialise sweeps across
// processes. A backend without it leaves overlap handling to the scheduler's
// single-invocation assumption.
type SweepLocker interface {
	TrySweepLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}
