// Package message defines the envelope every value placed on a peer's
// worker channel is wrapped in, and the single-shot Callback a proposer
// blocks on for its result.
package message

import (
	"fmt"

	"github.com/raftkv/raftkv/proto/raft_cmdpb"
	"github.com/raftkv/raftkv/proto/raft_serverpb"
)

// MsgType discriminates the payload carried by a Msg.
type MsgType int64

const (
	MsgTypeNull MsgType = iota
	// MsgTypeRaftMessage carries a raft_serverpb.RaftMessage received
	// from a peer on another store.
	MsgTypeRaftMessage
	// MsgTypeRaftCmd carries a client command proposed to this region.
	MsgTypeRaftCmd
	// MsgTypeTick drives one region's RaftNode.Tick.
	MsgTypeTick
	// MsgTypeStart signals a newly registered region to begin ticking.
	MsgTypeStart
	// MsgTypeSplitRegion requests a region split. Accepted and a no-op in
	// this scope, per spec.md section 4.1 — splits are a named extension
	// surface, not specified.
	MsgTypeSplitRegion
	// MsgTypeRegionApproximateSize reports an estimated region size.
	// Accepted and a no-op in this scope, per spec.md section 4.1.
	MsgTypeRegionApproximateSize
	// MsgTypeGcSnap requests stale snapshot files be garbage collected.
	// Accepted and a no-op in this scope, per spec.md section 4.1.
	MsgTypeGcSnap
)

// Msg is what flows through the router to a region's worker goroutine.
type Msg struct {
	Type     MsgType
	RegionID uint64
	Data     interface{}
}

func NewMsg(t MsgType, data interface{}) Msg {
	return Msg{Type: t, Data: data}
}

func NewPeerMsg(t MsgType, regionID uint64, data interface{}) Msg {
	return Msg{Type: t, RegionID: regionID, Data: data}
}

// MsgRaftCmd is the MsgTypeRaftCmd payload: a client command plus the
// callback its eventual response is delivered through.
type MsgRaftCmd struct {
	Request  *raft_cmdpb.RaftCmdRequest
	Callback *Callback
}

// Callback is a single-shot handle a proposer blocks on (or polls) for
// the response to a proposed command, the role spec.md section 1 gives
// the external collaborator "Callback".
type Callback struct {
	done chan *raft_cmdpb.RaftCmdResponse
}

func NewCallback() *Callback {
	return &Callback{done: make(chan *raft_cmdpb.RaftCmdResponse, 1)}
}

// Done delivers resp to whoever is waiting on this callback. It must be
// called at most once.
func (c *Callback) Done(resp *raft_cmdpb.RaftCmdResponse) {
	if c == nil {
		return
	}
	c.done <- resp
}

// WaitResp blocks until Done is called and returns its response.
func (c *Callback) WaitResp() *raft_cmdpb.RaftCmdResponse {
	return <-c.done
}

// NotifyStaleReq completes cb with a StaleCommand error for the given
// term, used when a region loses the log entry a proposal was tracked
// at before the callback could be matched.
func NotifyStaleReq(term uint64, cb *Callback) {
	cb.Done(&raft_cmdpb.RaftCmdResponse{
		Header: &raft_cmdpb.ResponseHeader{Error: "stale command", CurrentTerm: term},
	})
}

// NotifyReqRegionRemoved completes cb with a RegionNotFound error, used
// when the region this command targeted has been destroyed after the
// command was proposed but before it could be applied.
func NotifyReqRegionRemoved(regionID uint64, cb *Callback) {
	cb.Done(&raft_cmdpb.RaftCmdResponse{
		Header: &raft_cmdpb.ResponseHeader{Error: fmt.Sprintf("region %d not found", regionID)},
	})
}

// RaftMessage is re-exported so callers of this package need not import
// raft_serverpb directly for the common case of routing one.
type RaftMessage = raft_serverpb.RaftMessage
