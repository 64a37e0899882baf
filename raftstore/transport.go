package raftstore

import "github.com/raftkv/raftkv/proto/raft_serverpb"

// Transport is the external collaborator spec.md section 1 names:
// a fire-and-forget sender of RaftMessage envelopes to other stores.
// Delivery, retries and the network itself are entirely out of scope;
// PeerMsgHandler only ever calls Send.
type Transport interface {
	Send(msg *raft_serverpb.RaftMessage) error
}
