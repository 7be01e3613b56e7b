package cache

import (
	"sync/atomic"
)

// Statistics tracks cache activity. Counters are always maintained whether
// or not Prometheus metrics are enabled.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64
	size      atomic.Int64
	maxSize   atomic.Int64
}

func (s *Statistics) hit()      { s.hits.Add(1) }
func (s *Statistics) miss()     { s.misses.Add(1) }
func (s *Statistics) set()      { s.sets.Add(1) }
func (s *Statistics) delete()   { s.deletes.Add(1) }
func (s *Statistics) eviction() { s.evictions.Add(1) }

func (s *Statistics) updateSize(size int) {
	s.size.Store(int64(size))
	for {
		peak := s.maxSize.Load()
		if int64(size) <= peak || s.maxSize.CompareAndSwap(peak, int64(size)) {
			return
		}
	}
}

// StatsSummary is a point-in-time copy of Statistics
type StatsSummary struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Sets        int64   `json:"sets"`
	Deletes     int64   `json:"deletes"`
	Evictions   int64   `json:"evictions"`
	CurrentSize int64   `json:"current_size"`
	MaxSize     int64   `json:"max_size"`
	HitRatio    float64 `json:"hit_ratio"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	summary := StatsSummary{
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Sets:        s.sets.Load(),
		Deletes:     s.deletes.Load(),
		Evictions:   s.evictions.Load(),
		CurrentSize: s.size.Load(),
		MaxSize:     s.maxSize.Load(),
	}
	if total := summary.Hits + summary.Misses; total > 0 {
		summary.HitRatio = float64(summary.Hits) / float64(total)
	}
	return summary
}
