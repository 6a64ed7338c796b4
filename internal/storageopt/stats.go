package storageopt

import "sync/atomic"

// =============================================================================
// 缓存统计计数器
// =============================================================================

// CacheCounter 缓存统计计数器。
// 零值可用，所有方法并发安全。
type CacheCounter struct {
	hits           atomic.Int64
	misses         atomic.Int64
	constructions  atomic.Int64
	constructFails atomic.Int64
	evictions      atomic.Int64
	releases       atomic.Int64
	releaseErrors  atomic.Int64
}

// IncHit 增加命中计数。
func (c *CacheCounter) IncHit() { c.hits.Add(1) }

// IncMiss 增加未命中计数。
func (c *CacheCounter) IncMiss() { c.misses.Add(1) }

// IncConstruction 增加构造计数。
func (c *CacheCounter) IncConstruction() { c.constructions.Add(1) }

// IncConstructError 增加构造失败计数。
func (c *CacheCounter) IncConstructError() { c.constructFails.Add(1) }

// AddEvictions 增加淘汰计数。
func (c *CacheCounter) AddEvictions(n int) { c.evictions.Add(int64(n)) }

// IncRelease 增加释放计数。
func (c *CacheCounter) IncRelease() { c.releases.Add(1) }

// IncReleaseError 增加释放失败计数。
func (c *CacheCounter) IncReleaseError() { c.releaseErrors.Add(1) }

// Snapshot 返回计数器的瞬时快照。
// 各字段分别原子读取，快照整体不保证一致性。
func (c *CacheCounter) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Hits:               c.hits.Load(),
		Misses:             c.misses.Load(),
		Constructions:      c.constructions.Load(),
		ConstructionErrors: c.constructFails.Load(),
		Evictions:          c.evictions.Load(),
		Releases:           c.releases.Load(),
		ReleaseErrors:      c.releaseErrors.Load(),
	}
}

// CounterSnapshot 是 CacheCounter 的只读快照。
type CounterSnapshot struct {
	Hits               int64
	Misses             int64
	Constructions      int64
	ConstructionErrors int64
	Evictions          int64
	Releases           int64
	ReleaseErrors      int64
}

// HitRatio 返回命中率 (0.0 - 1.0)，无访问时返回 0。
func (s CounterSnapshot) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
