package raftstore

import (
	"github.com/Connor1996/badger"

	"github.com/raftkv/raftkv/engine_util"
	"github.com/raftkv/raftkv/proto/eraftpb"
	"github.com/raftkv/raftkv/proto/metapb"
	"github.com/raftkv/raftkv/proto/raft_serverpb"
	"github.com/raftkv/raftkv/raft"
)

// PeerStorage is the durable holder of one region's raft log, hard
// state, applied index and region descriptor, the collaborator spec.md
// section 1 names "PeerStorage". Log entries and hard state live in the
// raft engine; applied index and the region descriptor live in the kv
// engine, alongside the column-family data they describe, so a crash
// between the two writes is impossible to observe: the handler's
// HandleRaftReady commits both the user-visible writes and the apply state in a single
// WriteBatch.
type PeerStorage struct {
	kvEngine   engine_util.KvEngine
	raftEngine engine_util.KvEngine

	region *metapb.Region

	applyState  raft_serverpb.RaftApplyState
	regionState raft_serverpb.RegionLocalState
	hardState   eraftpb.HardState

	Tag string
}

// NewPeerStorage loads whatever state was previously persisted for
// region.Id, or initializes fresh zero state for a region seen for the
// first time.
func NewPeerStorage(kv, raftEngine engine_util.KvEngine, region *metapb.Region, tag string) (*PeerStorage, error) {
	ps := &PeerStorage{
		kvEngine:   kv,
		raftEngine: raftEngine,
		region:     region,
		Tag:        tag,
	}

	if err := engine_util.LoadMeta(kv, engine_util.ApplyStateKey(region.Id), &ps.applyState); err != nil {
		if err != badger.ErrKeyNotFound {
			return nil, err
		}
		ps.applyState = raft_serverpb.RaftApplyState{}
	}

	if err := engine_util.LoadMeta(kv, engine_util.RegionStateKey(region.Id), &ps.regionState); err != nil {
		if err != badger.ErrKeyNotFound {
			return nil, err
		}
		ps.regionState = raft_serverpb.RegionLocalState{State: raft_serverpb.PeerStateNormal, Region: region}
	} else {
		ps.region = ps.regionState.Region
	}

	if err := engine_util.LoadMeta(raftEngine, engine_util.RaftStateKey(region.Id), &ps.hardState); err != nil {
		if err != badger.ErrKeyNotFound {
			return nil, err
		}
		ps.hardState = eraftpb.HardState{}
	}

	return ps, nil
}

func (ps *PeerStorage) Region() *metapb.Region { return ps.region }

func (ps *PeerStorage) SetRegion(region *metapb.Region) { ps.region = region }

func (ps *PeerStorage) AppliedIndex() uint64 { return ps.applyState.AppliedIndex }

func (ps *PeerStorage) TruncatedIndex() uint64 { return ps.applyState.TruncatedState.Index }

func (ps *PeerStorage) HardState() eraftpb.HardState { return ps.hardState }

func (ps *PeerStorage) isInitialized() bool { return len(ps.region.Peers) > 0 }

// SaveReadyState persists everything a Ready value produced that must be
// durable before the entries are sent to peers or applied: the new log
// entries, and the hard state if it changed. This is step one of the
// Ready cycle (spec.md section 4.3); applying committed entries is a
// separate, later write against the kv engine.
func (ps *PeerStorage) SaveReadyState(rd *raft.Ready) error {
	raftWB := new(engine_util.WriteBatch)

	for _, entry := range rd.Entries {
		if err := engine_util.PutMeta(raftWB, engine_util.RaftLogKey(ps.region.Id, entry.Index), entry); err != nil {
			return err
		}
	}

	if !isEmptyHardState(rd.HardState) {
		ps.hardState = rd.HardState
		if err := engine_util.PutMeta(raftWB, engine_util.RaftStateKey(ps.region.Id), ps.hardState); err != nil {
			return err
		}
	}

	if raftWB.Len() == 0 {
		return nil
	}
	return ps.raftEngine.Write(raftWB)
}

func isEmptyHardState(hs eraftpb.HardState) bool {
	return hs.Term == 0 && hs.Vote == 0 && hs.Commit == 0
}

// stageApplyState sets the in-memory applied index and truncated state to
// (lastIndex, lastTerm) and stages the updated RaftApplyState into wb (a
// caller-owned batch that also carries the column-family writes of the
// entries applied so far). The caller commits wb in one write, which is
// what makes applied_index atomic with the user-visible writes the
// entries produced.
func (ps *PeerStorage) stageApplyState(wb *engine_util.WriteBatch, lastIndex, lastTerm uint64) error {
	ps.applyState.AppliedIndex = lastIndex
	ps.applyState.TruncatedState.Index = lastIndex
	ps.applyState.TruncatedState.Term = lastTerm
	return engine_util.PutMeta(wb, engine_util.ApplyStateKey(ps.region.Id), ps.applyState)
}

func (ps *PeerStorage) stageRegionState(wb *engine_util.WriteBatch, state raft_serverpb.PeerState) error {
	ps.regionState = raft_serverpb.RegionLocalState{State: state, Region: ps.region}
	return engine_util.PutMeta(wb, engine_util.RegionStateKey(ps.region.Id), ps.regionState)
}

// clearMeta stages deletion of every durable record belonging to this
// region, called when a peer is destroyed (e.g. removed from the region
// by a conf change) so a subsequent bootstrap of a different peer
// sharing the id doesn't observe stale state.
func (ps *PeerStorage) clearMeta(kvWB *engine_util.WriteBatch) {
	kvWB.DeleteMeta(engine_util.ApplyStateKey(ps.region.Id))
	kvWB.DeleteMeta(engine_util.RegionStateKey(ps.region.Id))
}
