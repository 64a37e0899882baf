package raftstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raftkv/raftkv/config"
	"github.com/raftkv/raftkv/engine_util"
	"github.com/raftkv/raftkv/proto/eraftpb"
	"github.com/raftkv/raftkv/proto/metapb"
	"github.com/raftkv/raftkv/proto/raft_cmdpb"
	"github.com/raftkv/raftkv/raftstore/message"
)

func testRegion() *metapb.Region {
	return &metapb.Region{
		Id:          1,
		StartKey:    []byte(""),
		EndKey:      []byte(""),
		RegionEpoch: &metapb.RegionEpoch{ConfVer: 1, Version: 1},
		Peers: []*metapb.Peer{
			{Id: 1, StoreId: 1},
		},
	}
}

func newTestHandler(t *testing.T, node *fakeRaftNode) (*PeerMsgHandler, *engine_util.MemEngine) {
	kv := engine_util.NewMemEngine()
	raftEng := engine_util.NewMemEngine()
	cfg := config.NewDefaultConfig()
	cfg.StoreID = 1

	region := testRegion()
	peer, err := NewPeer(1, cfg, kv, raftEng, region, node, region.Peers[0])
	require.NoError(t, err)

	storeMeta := NewStoreMeta()
	storeMeta.SetRegion(region)

	return NewPeerMsgHandler(peer, cfg, &fakeTransport{}, storeMeta, kv), kv
}

func putCmd(cf string, key, value []byte) *raft_cmdpb.RaftCmdRequest {
	return &raft_cmdpb.RaftCmdRequest{
		Header: &raft_cmdpb.RaftRequestHeader{RegionId: 1, Peer: &metapb.Peer{Id: 1, StoreId: 1}},
		Requests: []*raft_cmdpb.Request{
			{CmdType: raft_cmdpb.CmdPut, Put: &raft_cmdpb.PutRequest{Cf: cf, Key: key, Value: value}},
		},
	}
}

func TestProposeAndApplySinglePut(t *testing.T) {
	h, kv := newTestHandler(t, newFakeLeader(1))

	cb := message.NewCallback()
	h.proposeRaftCommand(putCmd(engine_util.CfDefault, []byte("k1"), []byte("v1")), cb)
	h.HandleRaftReady()

	resp := cb.WaitResp()
	require.Empty(t, resp.Header.Error)
	require.Len(t, resp.Responses, 1)

	val, err := kv.GetCF(engine_util.CfDefault, []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val)
}

func TestGetObservesOwnBatch(t *testing.T) {
	h, _ := newTestHandler(t, newFakeLeader(1))

	putCb := message.NewCallback()
	h.proposeRaftCommand(putCmd(engine_util.CfDefault, []byte("k1"), []byte("v1")), putCb)

	getCmd := &raft_cmdpb.RaftCmdRequest{
		Header: &raft_cmdpb.RaftRequestHeader{RegionId: 1, Peer: &metapb.Peer{Id: 1, StoreId: 1}},
		Requests: []*raft_cmdpb.Request{
			{CmdType: raft_cmdpb.CmdGet, Get: &raft_cmdpb.GetRequest{Cf: engine_util.CfDefault, Key: []byte("k1")}},
		},
	}
	getCb := message.NewCallback()
	h.proposeRaftCommand(getCmd, getCb)

	// Both commands are committed together in the same Ready cycle, so
	// the Get must see the Put even though neither has reached the
	// engine yet when HandleRaftReady begins.
	h.HandleRaftReady()

	putCb.WaitResp()
	getResp := getCb.WaitResp()
	require.Equal(t, []byte("v1"), getResp.Responses[0].Get.Value)
}

func TestStaleTermProposalIsRejected(t *testing.T) {
	node := newFakeLeader(1)
	node.term = 5
	h, _ := newTestHandler(t, node)

	cmd := putCmd(engine_util.CfDefault, []byte("k1"), []byte("v1"))
	cmd.Header.Term = 1 // the request's term is more than one behind the peer's

	cb := message.NewCallback()
	h.proposeRaftCommand(cmd, cb)
	resp := cb.WaitResp()
	require.NotEmpty(t, resp.Header.Error)
}

func TestAddNodeConfChange(t *testing.T) {
	h, _ := newTestHandler(t, newFakeLeader(1))

	cmd := &raft_cmdpb.RaftCmdRequest{
		Header: &raft_cmdpb.RaftRequestHeader{RegionId: 1, Peer: &metapb.Peer{Id: 1, StoreId: 1}},
		AdminRequest: &raft_cmdpb.AdminRequest{
			CmdType: raft_cmdpb.AdminCmdChangePeer,
			ChangePeer: &raft_cmdpb.ChangePeerRequest{
				ChangeType: eraftpb.ConfChangeAddNode,
				Peer:       &metapb.Peer{Id: 2, StoreId: 2},
			},
		},
	}

	cb := message.NewCallback()
	h.proposeRaftCommand(cmd, cb)
	h.HandleRaftReady()

	resp := cb.WaitResp()
	require.NotNil(t, resp.AdminResponse.ChangePeer)
	region := resp.AdminResponse.ChangePeer.Region
	require.Len(t, region.Peers, 2)
	require.Equal(t, uint64(2), region.RegionEpoch.ConfVer)
}

func TestRemoveSelfDestroysPeer(t *testing.T) {
	h, _ := newTestHandler(t, newFakeLeader(1))
	// Peer 1 is the leader proposing its own removal, which checkConfChange
	// only lets through when removing the leader is allowed.
	h.cfg.AllowRemoveLeader = true

	cmd := &raft_cmdpb.RaftCmdRequest{
		Header: &raft_cmdpb.RaftRequestHeader{RegionId: 1, Peer: &metapb.Peer{Id: 1, StoreId: 1}},
		AdminRequest: &raft_cmdpb.AdminRequest{
			CmdType: raft_cmdpb.AdminCmdChangePeer,
			ChangePeer: &raft_cmdpb.ChangePeerRequest{
				ChangeType: eraftpb.ConfChangeRemoveNode,
				Peer:       &metapb.Peer{Id: 1, StoreId: 1},
			},
		},
	}

	cb := message.NewCallback()
	h.proposeRaftCommand(cmd, cb)
	h.HandleRaftReady()

	require.True(t, h.peer.PendingRemove)
}

func TestCrashMidBatchAppliedIndexIsAtomicWithWrites(t *testing.T) {
	kv := &flakyEngine{MemEngine: engine_util.NewMemEngine()}
	raftEng := engine_util.NewMemEngine()
	cfg := config.NewDefaultConfig()
	cfg.StoreID = 1
	region := testRegion()

	peer, err := NewPeer(1, cfg, kv, raftEng, region, newFakeLeader(1), region.Peers[0])
	require.NoError(t, err)
	storeMeta := NewStoreMeta()
	storeMeta.SetRegion(region)
	h := NewPeerMsgHandler(peer, cfg, &fakeTransport{}, storeMeta, kv)

	kv.failWrites = true
	cb := message.NewCallback()
	h.proposeRaftCommand(putCmd(engine_util.CfDefault, []byte("k1"), []byte("v1")), cb)
	h.HandleRaftReady()

	// The engine write failed: the peer is marked stopped, and neither
	// the apply state nor the put it covers ever became durable.
	require.True(t, h.peer.PendingRemove)
	_, err = kv.Get(engine_util.ApplyStateKey(1))
	require.Error(t, err)
	_, err = kv.GetCF(engine_util.CfDefault, []byte("k1"))
	require.Error(t, err)

	// Restart: a fresh peer reloads PeerStorage against the same,
	// still-empty durable state and the command is replayed exactly as
	// it would be from the raft log after a real restart.
	kv.failWrites = false
	restarted, err := NewPeer(1, cfg, kv, raftEng, region, newFakeLeader(1), region.Peers[0])
	require.NoError(t, err)
	require.Equal(t, uint64(0), restarted.Store().AppliedIndex())
	h2 := NewPeerMsgHandler(restarted, cfg, &fakeTransport{}, storeMeta, kv)

	retryCb := message.NewCallback()
	h2.proposeRaftCommand(putCmd(engine_util.CfDefault, []byte("k1"), []byte("v1")), retryCb)
	h2.HandleRaftReady()

	resp := retryCb.WaitResp()
	require.Empty(t, resp.Header.Error)

	var applyState struct {
		AppliedIndex   uint64
		TruncatedState struct {
			Index uint64
			Term  uint64
		}
	}
	require.NoError(t, kv.GetMeta(engine_util.ApplyStateKey(1), &applyState))
	require.Equal(t, uint64(1), applyState.AppliedIndex)

	val, err := kv.GetCF(engine_util.CfDefault, []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val)
}
