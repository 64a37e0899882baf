// Package raft defines the boundary the peer event loop drives but does
// not implement: RaftNode is the Raft algorithm itself, reached only
// through Propose/Step/Tick/Ready/Advance. Log replication, elections and
// log storage live behind this interface and are out of scope for this
// repository (spec.md section 1); this package supplies only the data
// shapes and the interface, not a working consensus algorithm. The fake
// RaftNode raftstore's tests drive lives in raftstore/fake_raft_test.go.
package raft

import (
	"errors"

	"github.com/raftkv/raftkv/proto/eraftpb"
)

// ErrProposalDropped is returned by Propose when the node cannot accept
// the entry right now (not the leader, or a leadership change raced the
// proposal).
var ErrProposalDropped = errors.New("raft: proposal dropped")

// Status is a point-in-time snapshot of a node's role and progress,
// surfaced to operators and to admin commands like TransferLeader.
type Status struct {
	ID      uint64
	Term    uint64
	Vote    uint64
	Commit  uint64
	Applied uint64
	Lead    uint64
	RaftState eraftpb.StateType
}

// Ready bundles everything the peer event loop must persist and send
// after one pass through the Raft state machine, mirroring the teacher's
// raft.Ready. HardState and SoftState are zero-valued when unchanged.
type Ready struct {
	*eraftpb.SoftState
	eraftpb.HardState

	Entries          []eraftpb.Entry
	Snapshot         eraftpb.Snapshot
	CommittedEntries []eraftpb.Entry
	Messages         []eraftpb.Message
}

// RaftNode is the external collaborator named in spec.md section 1: the
// Raft log/election algorithm. PeerMsgHandler drives it through exactly
// these calls and never reaches into its internals.
type RaftNode interface {
	// Tick advances the internal logical clock by one tick, driving
	// election and heartbeat timeouts.
	Tick()

	// Propose appends data to be replicated. It only succeeds while this
	// node is the leader.
	Propose(data []byte) error

	// ProposeConfChange proposes a membership change.
	ProposeConfChange(cc eraftpb.ConfChange) error

	// ApplyConfChange applies a membership change that has been
	// committed, updating the node's view of the group.
	ApplyConfChange(cc eraftpb.ConfChange)

	// Step advances the state machine with a message received from a peer.
	Step(m eraftpb.Message) error

	// HasReady reports whether Ready would currently return a non-empty
	// value, so the event loop can skip a wasted Ready/Advance round trip.
	HasReady() bool

	// Ready returns the currently available state to be saved to stable
	// storage, sent to other peers and applied to the state machine. The
	// caller must call Advance after processing it.
	Ready() Ready

	// Advance notifies the node that the application has applied and
	// saved the last Ready result.
	Advance(rd Ready)

	// TransferLeader attempts to transfer leadership to the given peer.
	TransferLeader(transferee uint64)

	// Status returns the node's current role and progress.
	Status() Status
}
