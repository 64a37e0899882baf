package raftstore

import (
	"fmt"

	"github.com/raftkv/raftkv/proto/metapb"
	"github.com/raftkv/raftkv/proto/raft_cmdpb"
)

// The typed errors a proposal can fail with. preProposeRaftCommand checks,
// in order: StoreNotMatch, NotLeader, PeerMismatch, StaleCommand,
// KeyNotInRegion. EpochNotMatch is raised at apply time, by a Snap
// request whose header epoch differs from the region's.

type ErrStoreNotMatch struct {
	RequestStoreID uint64
	ActualStoreID  uint64
}

func (e *ErrStoreNotMatch) Error() string {
	return fmt.Sprintf("store not match, request store id %d, actual %d", e.RequestStoreID, e.ActualStoreID)
}

type ErrNotLeader struct {
	RegionId uint64
	Leader   *metapb.Peer
}

func (e *ErrNotLeader) Error() string {
	return fmt.Sprintf("region %d is not leader", e.RegionId)
}

type ErrPeerMismatch struct {
	RequestPeerID uint64
	ActualPeerID  uint64
}

func (e *ErrPeerMismatch) Error() string {
	return fmt.Sprintf("peer mismatch, request peer id %d, actual %d", e.RequestPeerID, e.ActualPeerID)
}

type ErrStaleCommand struct {
	Term uint64
}

func (e *ErrStaleCommand) Error() string {
	return fmt.Sprintf("stale command, current term %d", e.Term)
}

type ErrKeyNotInRegion struct {
	Key    []byte
	Region *metapb.Region
}

func (e *ErrKeyNotInRegion) Error() string {
	return fmt.Sprintf("key %x is not in region %d [%x, %x)", e.Key, e.Region.Id, e.Region.StartKey, e.Region.EndKey)
}

type ErrEpochNotMatch struct {
	RegionId uint64
	Regions  []*metapb.Region
}

func (e *ErrEpochNotMatch) Error() string {
	return fmt.Sprintf("epoch not match for region %d", e.RegionId)
}

type ErrRegionNotFound struct {
	RegionId uint64
}

func (e *ErrRegionNotFound) Error() string {
	return fmt.Sprintf("region %d not found", e.RegionId)
}

type ErrRaftEntryTooLarge struct {
	RegionId  uint64
	EntrySize uint64
}

func (e *ErrRaftEntryTooLarge) Error() string {
	return fmt.Sprintf("raft entry too large, region %d, size %d", e.RegionId, e.EntrySize)
}

// BindRespError fills resp's header with err's message, the way the
// teacher's BindRespError attaches a KV error to an RPC response.
func BindRespError(resp *raft_cmdpb.RaftCmdResponse, err error) {
	if resp.Header == nil {
		resp.Header = &raft_cmdpb.ResponseHeader{}
	}
	resp.Header.Error = err.Error()
}

// ErrResp builds a fresh RaftCmdResponse carrying err.
func ErrResp(err error) *raft_cmdpb.RaftCmdResponse {
	resp := &raft_cmdpb.RaftCmdResponse{Header: &raft_cmdpb.ResponseHeader{}}
	BindRespError(resp, err)
	return resp
}

// ErrRespStaleCommand builds a fresh RaftCmdResponse carrying an
// ErrStaleCommand for term. message.NotifyStaleReq, used when a tracked
// proposal no longer matches the committed entry, builds its own response
// rather than calling this.
func ErrRespStaleCommand(term uint64) *raft_cmdpb.RaftCmdResponse {
	return ErrResp(&ErrStaleCommand{Term: term})
}
