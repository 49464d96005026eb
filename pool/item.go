package pool

// Cost is the expected duration of a build in the two cache regimes.
// NonCached doubles as the workload ceiling when deciding whether a
// cache-warm worker is still worth preferring over a cold one.
type Cost struct {
	Cached    uint32
	NonCached uint32
}

// Item is the payload contract required from submitters. CacheHint returns
// an opaque string identifying state a worker may have cached from earlier
// builds; empty means no locality preference.
type Item interface {
	CacheHint() string
	CostEstimate() Cost
	String() string
}
