package raftstore

import (
	"sync"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"

	"github.com/raftkv/raftkv/raftstore/message"
)

var errPeerNotFound = errors.New("peer not found")

// peerState is what the router stores per region: the channel its
// worker goroutine reads from, and whether that worker has shut down.
type peerState struct {
	msgCh  chan message.Msg
	closed *atomic.Bool
}

func (ps *peerState) send(msg message.Msg) error {
	if ps.closed.Load() {
		return errPeerNotFound
	}
	ps.msgCh <- msg
	return nil
}

// Router fans inbound messages out to per-region worker channels, the
// collaborator that lets every region's PeerMsgHandler run single
// threaded while still being driven from many source goroutines
// (the raft base ticker, the transport's receive loop, client RPCs).
// Mirrors the teacher's raftstore.router.
type Router struct {
	peers         sync.Map
	workerSenders []chan message.Msg
}

func NewRouter(workerCount int) *Router {
	r := &Router{workerSenders: make([]chan message.Msg, workerCount)}
	for i := range r.workerSenders {
		r.workerSenders[i] = make(chan message.Msg, 4096)
	}
	return r
}

// Worker returns the i-th worker channel, read by the goroutine running
// handlers for every region hashed onto it.
func (r *Router) Worker(i int) <-chan message.Msg {
	return r.workerSenders[i]
}

func (r *Router) WorkerCount() int { return len(r.workerSenders) }

func (r *Router) get(regionID uint64) *peerState {
	v, ok := r.peers.Load(regionID)
	if !ok {
		return nil
	}
	return v.(*peerState)
}

// Register assigns regionID to one worker, chosen by hashing so the
// same region is always handled by the same goroutine.
func (r *Router) Register(regionID uint64) {
	idx := int(regionID) % len(r.workerSenders)
	r.peers.Store(regionID, &peerState{msgCh: r.workerSenders[idx], closed: atomic.NewBool(false)})
}

func (r *Router) Close(regionID uint64) {
	v, ok := r.peers.Load(regionID)
	if !ok {
		return
	}
	v.(*peerState).closed.Store(true)
	r.peers.Delete(regionID)
}

func (r *Router) Send(regionID uint64, msg message.Msg) error {
	msg.RegionID = regionID
	ps := r.get(regionID)
	if ps == nil {
		return errPeerNotFound
	}
	return ps.send(msg)
}

func (r *Router) SendRaftCommand(cmd *message.MsgRaftCmd) error {
	regionID := cmd.Request.Header.RegionId
	return r.Send(regionID, message.NewPeerMsg(message.MsgTypeRaftCmd, regionID, cmd))
}

func (r *Router) SendRaftMessage(msg *message.RaftMessage) error {
	return r.Send(msg.RegionId, message.NewPeerMsg(message.MsgTypeRaftMessage, msg.RegionId, msg))
}

func (r *Router) SendTick(regionID uint64) error {
	return r.Send(regionID, message.NewPeerMsg(message.MsgTypeTick, regionID, nil))
}

// SendSplitRegion, SendRegionApproximateSize and SendGcSnap forward the
// corresponding extension-surface messages to a region's worker, where
// HandleMsg accepts and no-ops them per spec.md section 4.1.
func (r *Router) SendSplitRegion(regionID uint64) error {
	return r.Send(regionID, message.NewPeerMsg(message.MsgTypeSplitRegion, regionID, nil))
}

func (r *Router) SendRegionApproximateSize(regionID uint64, size uint64) error {
	return r.Send(regionID, message.NewPeerMsg(message.MsgTypeRegionApproximateSize, regionID, size))
}

func (r *Router) SendGcSnap(regionID uint64) error {
	return r.Send(regionID, message.NewPeerMsg(message.MsgTypeGcSnap, regionID, nil))
}
