package raftstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raftkv/raftkv/config"
	"github.com/raftkv/raftkv/engine_util"
	"github.com/raftkv/raftkv/proto/raft_cmdpb"
	"github.com/raftkv/raftkv/raftstore/message"
)

// TestStoreRoutesCommandThroughWorker exercises the wiring spec.md section
// 2 implies but leaves the driving loop implicit for: registering a peer
// with a Store makes it reachable through the Router from a worker
// goroutine, not just by calling its handler directly.
func TestStoreRoutesCommandThroughWorker(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.StoreID = 1
	cfg.RaftWorkerCount = 1

	kv := engine_util.NewMemEngine()
	raftEng := engine_util.NewMemEngine()
	region := testRegion()
	node := newFakeLeader(1)
	peer, err := NewPeer(1, cfg, kv, raftEng, region, node, region.Peers[0])
	require.NoError(t, err)

	store := NewStore(cfg, &fakeTransport{}, kv)
	handler := NewPeerMsgHandler(peer, cfg, &fakeTransport{}, store.StoreMeta(), kv)
	store.RegisterPeer(handler)
	store.Run()
	defer store.Stop()

	cb := message.NewCallback()
	err = store.Router().SendRaftCommand(&message.MsgRaftCmd{
		Request:  putCmd(engine_util.CfDefault, []byte("k1"), []byte("v1")),
		Callback: cb,
	})
	require.NoError(t, err)

	select {
	case resp := <-waitDone(cb):
		require.Empty(t, resp.Header.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for proposal to apply")
	}

	val, err := kv.GetCF(engine_util.CfDefault, []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val)
}

func waitDone(cb *message.Callback) <-chan *raft_cmdpb.RaftCmdResponse {
	ch := make(chan *raft_cmdpb.RaftCmdResponse, 1)
	go func() { ch <- cb.WaitResp() }()
	return ch
}
