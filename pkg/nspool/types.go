// Package nspool implements the Pool manager and driver dispatch layer of
// spec.md §4.5: enumerating pools, selecting replicas for read/write, and
// routing to a pool-specific PoolDriver.
package nspool

import "github.com/dmgrid/nsfabric/pkg/nsvalue"

// Availability filters getPools (spec.md §4.5).
type Availability string

const (
	AvailabilityAny   Availability = "any"
	AvailabilityRead  Availability = "read"
	AvailabilityWrite Availability = "write"
	AvailabilityBoth  Availability = "both"
	AvailabilityNone  Availability = "none"
)

// Metadata is the PoolMetadata.GetString/GetInt accessor pattern of
// dm_pool.h, kept for driver-private typed fields (capacity, free,
// per-filesystem substructures) — spec.md §9 supplemented features.
type Metadata struct {
	nsvalue.Map
}

func NewMetadata() Metadata { return Metadata{Map: nsvalue.New()} }

// Pool is an administrative pool record.
type Pool struct {
	Name string
	Type string // indexes into the PoolDriver factory list
	Extra Metadata
}

// URL is a parsed pfn/replica location: (scheme, host, port, path, query).
type URL struct {
	Scheme string
	Host   string
	Port   int
	Path   string
	Query  map[string]string
}

// Chunk is one piece of a Location: a URL plus byte range within the
// logical file. Multi-chunk locations represent striping; most backends
// return a single chunk (spec.md §4.5).
type Chunk struct {
	URL    URL
	Offset uint64
	Size   uint64
	Extra  nsvalue.Map
}

// Location is an ordered list of Chunks.
type Location []Chunk
