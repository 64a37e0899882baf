// Package eraftpb defines the wire form the Raft algorithm itself speaks:
// log entries, peer-to-peer messages, conf changes, snapshots and the two
// pieces of state (hard/soft) a RaftNode reports through Ready. The
// algorithm that produces and consumes these values is out of scope for
// this repository (spec.md section 1); only the data shapes are needed to
// drive the peer event loop against a RaftNode.
package eraftpb

import (
	"bytes"
	"encoding/gob"
)

// EntryType distinguishes a normal command entry from a membership change.
type EntryType int32

const (
	EntryNormal EntryType = iota
	EntryConfChange
)

// Entry is one Raft log entry.
type Entry struct {
	EntryType EntryType
	Index     uint64
	Term      uint64
	Data      []byte
}

// MessageType enumerates the peer-to-peer Raft protocol messages. The
// raftstore layer inspects only MsgRequestVote and MsgHeartbeat directly;
// the rest pass through opaquely.
type MessageType int32

const (
	MsgHup MessageType = iota
	MsgBeat
	MsgPropose
	MsgAppend
	MsgAppendResponse
	MsgRequestVote
	MsgRequestVoteResponse
	MsgSnapshot
	MsgHeartbeat
	MsgHeartbeatResponse
	MsgTransferLeader
	MsgTimeoutNow
)

// Message is the Raft algorithm's wire message, exchanged between peers of
// the same region. Field names mirror eraftpb.Message in the teacher repo.
type Message struct {
	From     uint64
	To       uint64
	Term     uint64
	LogTerm  uint64
	Index    uint64
	Entries  []Entry
	Commit   uint64
	Snapshot *Snapshot
	Reject   bool
	MsgType  MessageType
	TempData []byte
}

// SnapshotMetadata carries the index/term the snapshot covers. It holds
// no region descriptor.
type SnapshotMetadata struct {
	Index uint64
	Term  uint64
}

// Snapshot is a full state machine image sent to a lagging peer. Snapshot
// installation is an extension surface per spec.md section 1 (not
// specified); this type exists so Ready.Snapshot has somewhere to live.
type Snapshot struct {
	Data     []byte
	Metadata *SnapshotMetadata
}

// ConfChangeType distinguishes adding from removing a node.
type ConfChangeType int32

const (
	ConfChangeAddNode ConfChangeType = iota
	ConfChangeRemoveNode
)

// ConfChange is the special entry payload that mutates region membership.
// Context carries an encoded admin RaftCmdRequest, per spec.md section 4.4.
type ConfChange struct {
	ChangeType ConfChangeType
	NodeId     uint64
	Context    []byte
}

// Marshal encodes cc the way a RaftNode implementation places it into a
// committed EntryConfChange's Data field.
func (cc *ConfChange) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a payload produced by Marshal back into cc.
func (cc *ConfChange) Unmarshal(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(cc)
}

// HardState is the subset of Raft state that must be persisted before it
// is acted upon: term, vote and commit index.
type HardState struct {
	Term   uint64
	Vote   uint64
	Commit uint64
}

// SoftState is volatile Raft state (who we think the leader is, our role)
// that is never persisted.
type SoftState struct {
	Lead      uint64
	RaftState StateType
}

// StateType is the role a Raft node currently occupies.
type StateType int

const (
	StateFollower StateType = iota
	StateCandidate
	StateLeader
)
