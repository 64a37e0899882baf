package raftstore

import (
	"sync"

	"github.com/raftkv/raftkv/proto/metapb"
)

// StoreMeta is the mutex-guarded view of every region this store hosts,
// set when a peer is registered and updated whenever a conf change is
// applied,
// the collaborator spec.md section 1 names "StoreMeta".
type StoreMeta struct {
	mu      sync.RWMutex
	regions map[uint64]*metapb.Region
}

func NewStoreMeta() *StoreMeta {
	return &StoreMeta{regions: make(map[uint64]*metapb.Region)}
}

func (m *StoreMeta) SetRegion(region *metapb.Region) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions[region.Id] = region
}

func (m *StoreMeta) GetRegion(regionID uint64) *metapb.Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.regions[regionID]
}

func (m *StoreMeta) RemoveRegion(regionID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.regions, regionID)
}
