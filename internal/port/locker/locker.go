package locker

import "context"

// AdvisoryLocker serialises critical sections across processes.
// The master holds one for its whole lifetime so that only one master
// distributes work against a shared database.
type AdvisoryLocker interface {
	WithLock(ctx context.Context, key int64, fn func(ctx context.Context) error) error
}
