// Package raft_serverpb defines the records PeerStorage persists to
// describe a region's durable Raft state, and the envelope peer-to-peer
// Raft traffic travels in over Transport.
package raft_serverpb

import (
	"github.com/raftkv/raftkv/proto/eraftpb"
	"github.com/raftkv/raftkv/proto/metapb"
)

// RaftMsgType distinguishes the three kinds of traffic a RaftMessage can
// carry, per spec.md section 6.
type RaftMsgType int32

const (
	RaftMsgNormal RaftMsgType = iota
	RaftMsgClientCmd
	RaftMsgTransferLeader
)

// RaftMessage is the envelope Transport carries between peers of the same
// region. Normal wraps an eraftpb.Message destined for RaftNode.Step;
// ClientCmd wraps an encoded RaftCmdRequest; TransferLeader wraps a target
// peer id.
type RaftMessage struct {
	RegionId    uint64
	FromPeer    *metapb.Peer
	ToPeer      *metapb.Peer
	RegionEpoch *metapb.RegionEpoch
	Message     *eraftpb.Message
	Data        []byte
	IsTombstone bool
	RaftMsgType RaftMsgType

	// StartKey/EndKey are attached only to an initial message (a vote
	// request, or a heartbeat with no committed index), so the store of
	// a not-yet-created peer can decide whether to create it lazily.
	StartKey []byte
	EndKey   []byte
}

// RaftTruncatedState records the (index, term) above which the log has
// been discarded.
type RaftTruncatedState struct {
	Index uint64
	Term  uint64
}

// RaftApplyState is the durable record of how far this region's apply
// cursor has advanced, stored under ApplyStateKey(regionID).
type RaftApplyState struct {
	AppliedIndex   uint64
	TruncatedState RaftTruncatedState
}

// PeerState is the lifecycle phase a region's local copy is in.
type PeerState int32

const (
	PeerStateNormal PeerState = iota
	PeerStateApplying
	PeerStateTombstone
)

// RegionLocalState is the durable record of a region's descriptor and
// lifecycle phase, stored under RegionStateKey(regionID).
type RegionLocalState struct {
	State  PeerState
	Region *metapb.Region
}
