// Package raft_cmdpb defines the client command schema: the payload carried
// by Normal Raft entries and the admin requests carried by ConfChange
// entries' Context field. Shapes mirror tinykv's generated raft_cmdpb
// package; encode/decode is gob-based rather than protobuf-generated,
// since the byte-level wire codec is explicitly out of scope for this
// repository (spec.md section 1) and no protoc toolchain is available to
// regenerate real .pb.go stubs. See DESIGN.md for the full justification.
package raft_cmdpb

import (
	"bytes"
	"encoding/gob"

	"github.com/raftkv/raftkv/proto/eraftpb"
	"github.com/raftkv/raftkv/proto/metapb"
)

// CmdType enumerates the KV operations a Normal entry's Request can carry.
type CmdType int32

const (
	CmdGet CmdType = iota
	CmdPut
	CmdDelete
	CmdSnap
)

// AdminCmdType enumerates administrative operations.
type AdminCmdType int32

const (
	AdminCmdInvalid AdminCmdType = iota
	AdminCmdChangePeer
	AdminCmdTransferLeader
	AdminCmdSplit
	AdminCmdCompactLog
)

// RaftRequestHeader fences a command to the region, peer, epoch and term
// the proposer believed it held when the command was proposed.
type RaftRequestHeader struct {
	RegionId    uint64
	Peer        *metapb.Peer
	RegionEpoch *metapb.RegionEpoch
	Term        uint64
}

type GetRequest struct {
	Cf  string
	Key []byte
}

type GetResponse struct {
	Value []byte
}

type PutRequest struct {
	Cf    string
	Key   []byte
	Value []byte
}

type PutResponse struct{}

type DeleteRequest struct {
	Cf  string
	Key []byte
}

type DeleteResponse struct{}

type SnapRequest struct{}

type SnapResponse struct {
	Region *metapb.Region
}

// Request is one KV operation inside a RaftCmdRequest. Exactly one of the
// typed fields is populated, selected by CmdType, mirroring the
// oneof-by-convention style generated protobuf code uses.
type Request struct {
	CmdType CmdType
	Get     *GetRequest
	Put     *PutRequest
	Delete  *DeleteRequest
	Snap    *SnapRequest
}

type Response struct {
	CmdType CmdType
	Get     *GetResponse
	Put     *PutResponse
	Delete  *DeleteResponse
	Snap    *SnapResponse
}

type ChangePeerRequest struct {
	ChangeType eraftpb.ConfChangeType
	Peer       *metapb.Peer
}

type ChangePeerResponse struct {
	Region *metapb.Region
}

type TransferLeaderRequest struct {
	Peer *metapb.Peer
}

type TransferLeaderResponse struct{}

type SplitRequest struct {
	SplitKey    []byte
	NewRegionId uint64
	NewPeerIds  []uint64
}

type SplitResponse struct {
	Regions []*metapb.Region
}

type CompactLogRequest struct {
	CompactIndex uint64
	CompactTerm  uint64
}

type CompactLogResponse struct{}

// AdminRequest carries exactly one administrative command, selected by
// CmdType.
type AdminRequest struct {
	CmdType        AdminCmdType
	ChangePeer     *ChangePeerRequest
	TransferLeader *TransferLeaderRequest
	Split          *SplitRequest
	CompactLog     *CompactLogRequest
}

type AdminResponse struct {
	CmdType        AdminCmdType
	ChangePeer     *ChangePeerResponse
	TransferLeader *TransferLeaderResponse
	Split          *SplitResponse
	CompactLog     *CompactLogResponse
}

// RaftCmdRequest is either a batch of KV Requests or a single admin
// request, never both, per spec.md section 6.
type RaftCmdRequest struct {
	Header       *RaftRequestHeader
	Requests     []*Request
	AdminRequest *AdminRequest
}

// RaftCmdResponse mirrors RaftCmdRequest's shape and carries an error when
// the command could not be satisfied (see raftstore/errors.go).
type RaftCmdResponse struct {
	Header        *ResponseHeader
	Responses     []*Response
	AdminResponse *AdminResponse
}

// ResponseHeader carries the error surface spec.md section 6 names:
// NotLeader, StoreNotMatch, RegionNotFound, KeyNotInRegion, EpochNotMatch,
// StaleCommand. Error is empty on success.
type ResponseHeader struct {
	Error       string
	CurrentTerm uint64
}

// Marshal encodes a RaftCmdRequest for storage as an Entry.Data payload, or
// as a ConfChange.Context payload. The wire-level codec is explicitly out
// of scope (spec.md section 1); gob stands in for it.
func (r *RaftCmdRequest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a payload produced by Marshal back into r.
func (r *RaftCmdRequest) Unmarshal(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(r)
}
