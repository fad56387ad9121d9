package nspool

import (
	"context"

	"github.com/dmgrid/nsfabric/pkg/nsinode"
	"github.com/dmgrid/nsfabric/pkg/nsplugin"
)

// Driver is a PoolHandler (spec.md §4.5). One Driver instance is
// materialised per pool *type* (cached on the StackInstance by
// nsplugin.PoolDriverKind), and every operation takes the specific Pool it
// concerns — a small simplification of dmlite's one-handler-per-pool model
// that still exercises the abstraction without adding a second layer of
// per-pool caching (recorded in DESIGN.md).
type Driver interface {
	nsplugin.Component

	PoolType() string
	TotalSpace(ctx context.Context, pool Pool) (uint64, error)
	FreeSpace(ctx context.Context, pool Pool) (uint64, error)
	Availability(ctx context.Context, pool Pool) Availability

	// ReplicaIsAvailable reports whether r's bytes are currently reachable.
	// Per DESIGN.md Open Question (b), implementations may cache this with
	// a short TTL rather than probing the backend on every call.
	ReplicaIsAvailable(ctx context.Context, pool Pool, r nsinode.Replica) bool

	WhereToRead(ctx context.Context, pool Pool, r nsinode.Replica) (Location, error)
	// WhereToWrite allocates a new pfn under pool for lfn and returns the
	// write Location; the replica is not yet recorded in the namespace.
	WhereToWrite(ctx context.Context, pool Pool, lfn string) (Location, string, error)
	RemoveReplica(ctx context.Context, pool Pool, r nsinode.Replica) error
	CancelWrite(ctx context.Context, pool Pool, loc Location) error
	// Stat returns the size actually written at pfn, used by doneWriting's
	// fallback when the backend itself doesn't report one (SPEC_FULL.md open
	// question (c)).
	Stat(ctx context.Context, pool Pool, pfn string) (uint64, error)
}
