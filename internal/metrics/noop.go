package metrics

// Noop discards every observation. Used by tests and by callers that don't
// want a Prometheus dependency wired in.
type Noop struct{}

func (Noop) IncCacheGetHit()                    {}
func (Noop) IncCacheGetMiss()                   {}
func (Noop) IncCacheGetError()                  {}
func (Noop) IncCacheFindHit()                   {}
func (Noop) IncCacheFindMiss()                  {}
func (Noop) SetPieceCacheCapacityTotal(n int64) {}
func (Noop) SetPieceCacheCapacityUsed(n int64)  {}
