package memory

import (
	"sort"
	"sync"
	"time"

	"fvfm-analyzer/internal/logger"
)

// Manager accounts for the native memory held by safe.Mat values during a
// run. It implements safe.MemoryTracker.
type Manager struct {
	allocations map[uint64]*AllocationRecord
	mu          sync.RWMutex
	stats       Stats
	logger      logger.Logger
}

type AllocationRecord struct {
	ID        uint64
	Tag       string
	Size      int64
	CreatedAt time.Time
}

type Stats struct {
	TotalAllocated int64
	TotalReleased  int64
	ActiveMats     int64
	PeakBytes      int64
}

func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		allocations: make(map[uint64]*AllocationRecord),
		logger:      log,
	}
}

func (m *Manager) TrackAllocation(id uint64, size int64, tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.allocations[id] = &AllocationRecord{
		ID:        id,
		Tag:       tag,
		Size:      size,
		CreatedAt: time.Now(),
	}
	m.stats.TotalAllocated += size
	m.stats.ActiveMats++

	if live := m.stats.TotalAllocated - m.stats.TotalReleased; live > m.stats.PeakBytes {
		m.stats.PeakBytes = live
	}
}

func (m *Manager) TrackDeallocation(id uint64, tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.allocations[id]
	if !exists {
		m.logger.Warning("MemoryManager", "release of untracked Mat", map[string]interface{}{
			"id":  id,
			"tag": tag,
		})
		return
	}

	delete(m.allocations, id)
	m.stats.TotalReleased += record.Size
	m.stats.ActiveMats--
}

func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Leaks lists Mats that are still open, oldest first
func (m *Manager) Leaks() []AllocationRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]AllocationRecord, 0, len(m.allocations))
	for _, r := range m.allocations {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Shutdown logs anything still open. The Mats themselves are released by
// their finalizers.
func (m *Manager) Shutdown() {
	leaks := m.Leaks()
	stats := m.GetStats()

	fields := map[string]interface{}{
		"allocated_bytes": stats.TotalAllocated,
		"released_bytes":  stats.TotalReleased,
		"peak_bytes":      stats.PeakBytes,
		"open_mats":       len(leaks),
	}

	if len(leaks) == 0 {
		m.logger.Debug("MemoryManager", "all Mats released", fields)
		return
	}

	tags := make([]string, 0, len(leaks))
	for _, l := range leaks {
		tags = append(tags, l.Tag)
	}
	fields["tags"] = tags
	m.logger.Warning("MemoryManager", "Mats still open at shutdown", fields)
}
