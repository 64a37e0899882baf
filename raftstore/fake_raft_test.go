package raftstore

import (
	"fmt"

	"github.com/raftkv/raftkv/engine_util"
	"github.com/raftkv/raftkv/proto/eraftpb"
	"github.com/raftkv/raftkv/proto/raft_serverpb"
	"github.com/raftkv/raftkv/raft"
)

// fakeRaftNode is a single-node stand-in for raft.RaftNode: every
// Propose is immediately committed, the way a one-node Raft group
// behaves in practice. It exists only to drive PeerMsgHandler's own
// tests; it implements none of the actual consensus algorithm, which is
// out of scope for this repository.
type fakeRaftNode struct {
	id    uint64
	term  uint64
	lead  uint64
	state eraftpb.StateType

	lastIndex uint64
	committed uint64
	pending   []eraftpb.Entry
	msgs      []eraftpb.Message
}

func newFakeLeader(id uint64) *fakeRaftNode {
	return &fakeRaftNode{id: id, term: 1, lead: id, state: eraftpb.StateLeader}
}

func newFakeFollower(id, lead uint64) *fakeRaftNode {
	return &fakeRaftNode{id: id, term: 1, lead: lead, state: eraftpb.StateFollower}
}

func (n *fakeRaftNode) Tick() {}

func (n *fakeRaftNode) Propose(data []byte) error {
	n.lastIndex++
	n.pending = append(n.pending, eraftpb.Entry{EntryType: eraftpb.EntryNormal, Index: n.lastIndex, Term: n.term, Data: data})
	n.committed = n.lastIndex
	return nil
}

func (n *fakeRaftNode) ProposeConfChange(cc eraftpb.ConfChange) error {
	data, err := cc.Marshal()
	if err != nil {
		return err
	}
	n.lastIndex++
	n.pending = append(n.pending, eraftpb.Entry{EntryType: eraftpb.EntryConfChange, Index: n.lastIndex, Term: n.term, Data: data})
	n.committed = n.lastIndex
	return nil
}

func (n *fakeRaftNode) ApplyConfChange(cc eraftpb.ConfChange) {}

func (n *fakeRaftNode) Step(m eraftpb.Message) error { return nil }

func (n *fakeRaftNode) HasReady() bool { return len(n.pending) > 0 }

func (n *fakeRaftNode) Ready() raft.Ready {
	return raft.Ready{Entries: n.pending, CommittedEntries: n.pending}
}

func (n *fakeRaftNode) Advance(rd raft.Ready) { n.pending = nil }

func (n *fakeRaftNode) TransferLeader(transferee uint64) { n.lead = transferee }

func (n *fakeRaftNode) Status() raft.Status {
	return raft.Status{ID: n.id, Term: n.term, Commit: n.committed, Lead: n.lead, RaftState: n.state}
}

// flakyEngine wraps a MemEngine so a test can simulate an engine write
// failure on demand, spec.md section 8 scenario 6's crash-mid-batch
// case: applied_index must stay at its pre-batch value until a retry
// against a healthy engine succeeds.
type flakyEngine struct {
	*engine_util.MemEngine
	failWrites bool
}

func (e *flakyEngine) Write(wb *engine_util.WriteBatch) error {
	if e.failWrites {
		return fmt.Errorf("simulated engine write failure")
	}
	return e.MemEngine.Write(wb)
}

// fakeTransport records every message sent through it, for assertions.
type fakeTransport struct {
	sent []*raft_serverpb.RaftMessage
}

func (t *fakeTransport) Send(msg *raft_serverpb.RaftMessage) error {
	t.sent = append(t.sent, msg)
	return nil
}
