package raftstore

import (
	"encoding/binary"

	"github.com/ngaut/log"

	"github.com/raftkv/raftkv/config"
	"github.com/raftkv/raftkv/engine_util"
	"github.com/raftkv/raftkv/proto/eraftpb"
	"github.com/raftkv/raftkv/proto/metapb"
	"github.com/raftkv/raftkv/proto/raft_cmdpb"
	"github.com/raftkv/raftkv/proto/raft_serverpb"
	"github.com/raftkv/raftkv/raftstore/message"
)

// PeerMsgHandler is the single-writer-per-region event loop: every
// message concerning one region, from any source, is handled here and
// nowhere else, so no locking is needed around the Peer or PeerStorage
// it owns. This is the component spec.md's whole document describes.
type PeerMsgHandler struct {
	peer *Peer
	cfg  *config.Config

	trans     Transport
	storeMeta *StoreMeta
	kv        engine_util.KvEngine
	ticks     *TickQueue
	router    *Router
}

func NewPeerMsgHandler(peer *Peer, cfg *config.Config, trans Transport, storeMeta *StoreMeta, kv engine_util.KvEngine) *PeerMsgHandler {
	return &PeerMsgHandler{peer: peer, cfg: cfg, trans: trans, storeMeta: storeMeta, kv: kv}
}

// WithTickQueue attaches the process-wide TickQueue this handler's region
// pushes its own id onto after every tick and on Start, spec.md section
// 4.1's bootstrap/reschedule requirement. Optional: tests that never send
// Tick/Start may leave it unset.
func (d *PeerMsgHandler) WithTickQueue(q *TickQueue) *PeerMsgHandler {
	d.ticks = q
	return d
}

// WithRouter attaches the Router this handler's region is registered
// with, so destroy() can release the region's bucket when this peer is
// removed. Optional: tests that never remove a peer may leave it unset.
func (d *PeerMsgHandler) WithRouter(r *Router) *PeerMsgHandler {
	d.router = r
	return d
}

// HandleMsg is the event dispatcher, spec.md section 4.1: it decodes
// the minimum needed to route the message and never lets a decode
// failure for one message affect another in the same batch.
func (d *PeerMsgHandler) HandleMsg(msg message.Msg) {
	switch msg.Type {
	case message.MsgTypeRaftMessage:
		raftMsg, ok := msg.Data.(*raft_serverpb.RaftMessage)
		if !ok || raftMsg == nil {
			log.Warnf("%s dropping malformed raft message", d.peer.Tag)
			return
		}
		// The wire envelope is itself sub-tagged, spec.md section 4.1:
		// Normal carries a Raft-algorithm message for Step; ClientCmd and
		// TransferLeader carry a command forwarded from another peer and
		// never reach onRaftMsg/Step at all.
		switch raftMsg.RaftMsgType {
		case raft_serverpb.RaftMsgClientCmd:
			d.handleForwardedClientCmd(raftMsg)
		case raft_serverpb.RaftMsgTransferLeader:
			d.handleForwardedTransferLeader(raftMsg)
		default:
			if err := d.onRaftMsg(raftMsg); err != nil {
				log.Errorf("%s handle raft message err: %v", d.peer.Tag, err)
			}
		}
	case message.MsgTypeRaftCmd:
		cmd, ok := msg.Data.(*message.MsgRaftCmd)
		if !ok || cmd == nil {
			log.Warnf("%s dropping malformed raft command", d.peer.Tag)
			return
		}
		d.proposeRaftCommand(cmd.Request, cmd.Callback)
	case message.MsgTypeTick:
		d.onTick()
	case message.MsgTypeStart:
		d.startTicker()
	case message.MsgTypeSplitRegion, message.MsgTypeRegionApproximateSize, message.MsgTypeGcSnap:
		// Accepted and a no-op: splits, region-size estimation, and
		// snapshot GC are extension surfaces spec.md names but does not
		// specify.
	}
	d.HandleRaftReady()
}

// onTick advances this region's logical clock by one tick and reschedules
// its own next tick by pushing regionID back onto the TickQueue, per
// spec.md section 4.1.
func (d *PeerMsgHandler) onTick() {
	if d.peer.PendingRemove {
		return
	}
	d.peer.RaftGroup.Tick()
	d.pushTick()
}

// startTicker bootstraps scheduling for a newly registered region by
// pushing its id onto the TickQueue once, per spec.md section 4.1's Start
// handling. It does not itself call RaftGroup.Tick — that happens the
// first time the pushed id is drained and a Tick message is sent back.
func (d *PeerMsgHandler) startTicker() {
	d.pushTick()
}

func (d *PeerMsgHandler) pushTick() {
	if d.ticks != nil {
		d.ticks.Push(d.peer.RegionId())
	}
}

// HandleRaftReady is the Ready cycle, spec.md section 4.3: persist,
// send, apply, advance, in that order, and exactly once per message
// that might have produced a Ready value.
func (d *PeerMsgHandler) HandleRaftReady() {
	if d.peer.PendingRemove {
		return
	}
	if !d.peer.RaftGroup.HasReady() {
		return
	}

	ready := d.peer.RaftGroup.Ready()

	if err := d.peer.Store().SaveReadyState(&ready); err != nil {
		log.Errorf("%s failed to save ready state, stopping peer: %v", d.peer.Tag, err)
		d.peer.PendingRemove = true
		return
	}

	d.peer.Send(d.trans, ready.Messages)

	if len(ready.CommittedEntries) > 0 {
		kvWB := new(engine_util.WriteBatch)
		var lastIndex, lastTerm uint64
		for i := range ready.CommittedEntries {
			entry := &ready.CommittedEntries[i]
			d.process(entry, kvWB)
			lastIndex, lastTerm = entry.Index, entry.Term
			if d.peer.PendingRemove {
				// This entry destroyed the peer (e.g. it removed this
				// store from the region). Whatever clearMeta staged for
				// it still commits, but applied_index is never advanced
				// past it and no later entry in this Ready is applied.
				break
			}
		}
		if !d.peer.PendingRemove {
			if err := d.peer.Store().stageApplyState(kvWB, lastIndex, lastTerm); err != nil {
				log.Errorf("%s failed to stage apply state, stopping peer: %v", d.peer.Tag, err)
				d.peer.PendingRemove = true
				return
			}
		}
		if err := d.kv.Write(kvWB); err != nil {
			// A failed engine write is scoped to this one region: mark it
			// stopped and leave applied_index unadvanced rather than
			// taking down the whole store, since other regions' workers
			// keep running on separate goroutines (spec.md section 5).
			// On restart this peer reloads the last durable apply_state
			// and retries from there.
			log.Errorf("%s failed to commit apply batch, stopping peer: %v", d.peer.Tag, err)
			d.peer.PendingRemove = true
			return
		}
	}

	if d.peer.PendingRemove {
		return
	}

	d.peer.RaftGroup.Advance(ready)
}

// process applies one committed entry, spec.md section 4.4: dispatch on
// entry type, match against the proposal this peer is tracking for that
// (index, term) if any, and complete that proposal's Callback with the
// command's result.
func (d *PeerMsgHandler) process(entry *eraftpb.Entry, kvWB *engine_util.WriteBatch) {
	if entry.EntryType == eraftpb.EntryConfChange {
		d.processConfChange(entry, kvWB)
		return
	}
	d.processNormal(entry, kvWB)
}

func (d *PeerMsgHandler) processNormal(entry *eraftpb.Entry, kvWB *engine_util.WriteBatch) {
	cmd := &raft_cmdpb.RaftCmdRequest{}
	if len(entry.Data) == 0 {
		// An empty entry committed on a new leader's term; nothing to apply.
		return
	}
	if err := cmd.Unmarshal(entry.Data); err != nil {
		log.Errorf("%s failed to decode entry %d: %v", d.peer.Tag, entry.Index, err)
		return
	}

	resp := &raft_cmdpb.RaftCmdResponse{Header: &raft_cmdpb.ResponseHeader{}}
	for _, req := range cmd.Requests {
		sub, err := d.execNormalCmd(req, cmd.Header, entry, kvWB)
		if err != nil {
			BindRespError(resp, err)
			break
		}
		resp.Responses = append(resp.Responses, sub)
	}

	proposal := d.peer.findProposal(entry.Index, entry.Term)
	if proposal == nil {
		return
	}
	proposal.cb.Done(resp)
}

func (d *PeerMsgHandler) execNormalCmd(req *raft_cmdpb.Request, header *raft_cmdpb.RaftRequestHeader, entry *eraftpb.Entry, kvWB *engine_util.WriteBatch) (*raft_cmdpb.Response, error) {
	switch req.CmdType {
	case raft_cmdpb.CmdPut:
		if !CheckKeyInRegion(req.Put.Key, d.peer.Region()) {
			return nil, &ErrKeyNotInRegion{Key: req.Put.Key, Region: d.peer.Region()}
		}
		kvWB.SetCF(req.Put.Cf, req.Put.Key, req.Put.Value)
		return &raft_cmdpb.Response{CmdType: raft_cmdpb.CmdPut, Put: &raft_cmdpb.PutResponse{}}, nil
	case raft_cmdpb.CmdDelete:
		if !CheckKeyInRegion(req.Delete.Key, d.peer.Region()) {
			return nil, &ErrKeyNotInRegion{Key: req.Delete.Key, Region: d.peer.Region()}
		}
		kvWB.DeleteCF(req.Delete.Cf, req.Delete.Key)
		return &raft_cmdpb.Response{CmdType: raft_cmdpb.CmdDelete, Delete: &raft_cmdpb.DeleteResponse{}}, nil
	case raft_cmdpb.CmdGet:
		if !CheckKeyInRegion(req.Get.Key, d.peer.Region()) {
			return nil, &ErrKeyNotInRegion{Key: req.Get.Key, Region: d.peer.Region()}
		}
		// The response value must reflect writes staged by this same
		// entry (or an earlier one in this Ready cycle), so commit kvWB
		// first — staging the up-to-date apply state along with it, same
		// as end-of-cycle does — then read, then carry on with a fresh
		// batch for whatever entries remain in this cycle.
		if kvWB.Len() > 0 {
			if err := d.peer.Store().stageApplyState(kvWB, entry.Index, entry.Term); err != nil {
				log.Errorf("%s failed to stage apply state before Get: %v", d.peer.Tag, err)
				d.peer.PendingRemove = true
				return nil, err
			}
			if err := d.kv.Write(kvWB); err != nil {
				log.Errorf("%s failed to commit batch before Get: %v", d.peer.Tag, err)
				d.peer.PendingRemove = true
				return nil, err
			}
			kvWB.Reset()
		}
		val, err := d.kv.GetCF(req.Get.Cf, req.Get.Key)
		if err != nil {
			val = nil
		}
		return &raft_cmdpb.Response{CmdType: raft_cmdpb.CmdGet, Get: &raft_cmdpb.GetResponse{Value: val}}, nil
	case raft_cmdpb.CmdSnap:
		// spec.md section 4.4 leaves Snap's response shape as an open
		// question but is explicit that it must "fence against region
		// epoch" first — see DESIGN.md's Open Question decision on this.
		if err := d.checkEpochNotMatch(header); err != nil {
			return nil, err
		}
		return &raft_cmdpb.Response{CmdType: raft_cmdpb.CmdSnap, Snap: &raft_cmdpb.SnapResponse{Region: d.peer.Region()}}, nil
	}
	return &raft_cmdpb.Response{}, nil
}

// checkEpochNotMatch rejects a command proposed against a stale view of
// this region's epoch, the EpochNotMatch error spec.md section 6 names.
// A nil header epoch means the proposer didn't attach one and is not
// fenced (matching Get/Put/Delete, which fence by key range instead).
func (d *PeerMsgHandler) checkEpochNotMatch(header *raft_cmdpb.RaftRequestHeader) error {
	if header == nil || header.RegionEpoch == nil {
		return nil
	}
	region := d.peer.Region()
	if header.RegionEpoch.ConfVer != region.RegionEpoch.ConfVer || header.RegionEpoch.Version != region.RegionEpoch.Version {
		return &ErrEpochNotMatch{RegionId: region.Id, Regions: []*metapb.Region{region}}
	}
	return nil
}

// processConfChange applies a committed membership change: it mutates
// the region descriptor, bumps ConfVer, updates StoreMeta only after the
// engine write that makes the new region durable, and finally tells
// RaftGroup the change has taken effect, spec.md section 4.4's ordering
// requirement.
func (d *PeerMsgHandler) processConfChange(entry *eraftpb.Entry, kvWB *engine_util.WriteBatch) {
	cc := eraftpb.ConfChange{}
	// The entry's Data field carries the gob-encoded ConfChange for
	// EntryConfChange entries in this repository's RaftNode contract.
	if err := cc.Unmarshal(entry.Data); err != nil {
		log.Errorf("%s failed to decode conf change at %d: %v", d.peer.Tag, entry.Index, err)
		return
	}

	cmd := &raft_cmdpb.RaftCmdRequest{}
	if err := cmd.Unmarshal(cc.Context); err != nil {
		log.Errorf("%s failed to decode conf change context at %d: %v", d.peer.Tag, entry.Index, err)
		return
	}

	region := d.peer.Region().Clone()

	switch cc.ChangeType {
	case eraftpb.ConfChangeAddNode:
		addPeer := cmd.AdminRequest.ChangePeer.Peer
		if region.FindPeerByID(addPeer.Id) == nil {
			region.Peers = append(region.Peers, addPeer)
			region.RegionEpoch.ConfVer++
			d.commitRegion(region, kvWB)
			d.peer.insertPeerCache(addPeer)
		}
	case eraftpb.ConfChangeRemoveNode:
		if cc.NodeId == d.peer.PeerId() {
			d.destroy(kvWB)
			return
		}
		if region.FindPeerByID(cc.NodeId) != nil {
			region = RemovePeer(region, cc.NodeId)
			region.RegionEpoch.ConfVer++
			d.commitRegion(region, kvWB)
			d.peer.removePeerCache(cc.NodeId)
		}
	}

	d.peer.RaftGroup.ApplyConfChange(cc)

	proposal := d.peer.findProposal(entry.Index, entry.Term)
	if proposal == nil {
		return
	}
	proposal.cb.Done(&raft_cmdpb.RaftCmdResponse{
		Header: &raft_cmdpb.ResponseHeader{},
		AdminResponse: &raft_cmdpb.AdminResponse{
			CmdType:    raft_cmdpb.AdminCmdChangePeer,
			ChangePeer: &raft_cmdpb.ChangePeerResponse{Region: region},
		},
	})
}

// commitRegion stages the new region descriptor into kvWB and updates
// StoreMeta only once that write is staged in the same batch as the
// applied index, so StoreMeta is never ahead of what's durable.
func (d *PeerMsgHandler) commitRegion(region *metapb.Region, kvWB *engine_util.WriteBatch) {
	d.peer.SetRegion(region)
	if err := d.peer.Store().stageRegionState(kvWB, raft_serverpb.PeerStateNormal); err != nil {
		log.Errorf("%s failed to stage region state: %v", d.peer.Tag, err)
	}
	d.storeMeta.SetRegion(region)
}

func (d *PeerMsgHandler) destroy(kvWB *engine_util.WriteBatch) {
	d.peer.PendingRemove = true
	d.peer.Store().clearMeta(kvWB)
	d.storeMeta.RemoveRegion(d.peer.Region().Id)
	for _, pr := range d.peer.applyProposals {
		message.NotifyReqRegionRemoved(d.peer.Region().Id, pr.cb)
	}
	d.peer.applyProposals = nil
	if d.router != nil {
		d.router.Close(d.peer.RegionId())
	}
}

// proposeRaftCommand is the proposal path, spec.md section 4.5: every
// rejection is checked in a fixed order before the command is ever
// handed to RaftGroup.Propose.
func (d *PeerMsgHandler) proposeRaftCommand(req *raft_cmdpb.RaftCmdRequest, cb *message.Callback) {
	errResp := &raft_cmdpb.RaftCmdResponse{Header: &raft_cmdpb.ResponseHeader{}}
	if err := d.preProposeRaftCommand(req); err != nil {
		BindRespError(errResp, err)
		cb.Done(errResp)
		return
	}

	policy := d.peer.inspect(req)
	var (
		idx          uint64
		err          error
		isConfChange bool
	)
	switch policy {
	case RequestPolicyProposeTransferLeader:
		d.peer.ProposeTransferLeader(req, cb)
		return
	case RequestPolicyProposeConfChange:
		isConfChange = true
		idx, err = d.peer.ProposeConfChange(d.cfg, req)
	default:
		idx, err = d.peer.ProposeNormal(d.cfg, req)
	}

	if err != nil {
		BindRespError(errResp, err)
		cb.Done(errResp)
		return
	}

	d.peer.PostPropose(idx, d.peer.Term(), isConfChange, cb)
}

// preProposeRaftCommand checks, in order: StoreNotMatch, NotLeader,
// PeerMismatch, StaleCommand, KeyNotInRegion — spec.md section 4.5's
// fixed rejection order.
func (d *PeerMsgHandler) preProposeRaftCommand(req *raft_cmdpb.RaftCmdRequest) error {
	header := req.Header
	if header.Peer.StoreId != d.cfg.StoreID {
		return &ErrStoreNotMatch{RequestStoreID: header.Peer.StoreId, ActualStoreID: d.cfg.StoreID}
	}
	if !d.peer.IsLeader() {
		return &ErrNotLeader{RegionId: d.peer.Region().Id, Leader: d.peer.getPeerFromCache(d.peer.LeaderId())}
	}
	if header.Peer.Id != d.peer.PeerId() {
		return &ErrPeerMismatch{RequestPeerID: header.Peer.Id, ActualPeerID: d.peer.PeerId()}
	}
	term := d.peer.Term()
	if header.Term != 0 && term > header.Term+1 {
		return &ErrStaleCommand{Term: term}
	}
	for _, r := range req.Requests {
		key := requestKey(r)
		if key != nil && !CheckKeyInRegion(key, d.peer.Region()) {
			return &ErrKeyNotInRegion{Key: key, Region: d.peer.Region()}
		}
	}
	return nil
}

func requestKey(req *raft_cmdpb.Request) []byte {
	switch req.CmdType {
	case raft_cmdpb.CmdGet:
		return req.Get.Key
	case raft_cmdpb.CmdPut:
		return req.Put.Key
	case raft_cmdpb.CmdDelete:
		return req.Delete.Key
	}
	return nil
}

// handleForwardedClientCmd decodes a client command carried by a
// RaftMsgClientCmd envelope — forwarded to this peer by another peer,
// e.g. a follower relaying a write to the leader — and proposes it
// exactly as a locally submitted command would be, spec.md section 4.1.
// The forwarding peer owns the client's callback, not this one, so it is
// proposed with no callback of its own.
func (d *PeerMsgHandler) handleForwardedClientCmd(msg *raft_serverpb.RaftMessage) {
	cmd := &raft_cmdpb.RaftCmdRequest{}
	if err := cmd.Unmarshal(msg.Data); err != nil {
		log.Errorf("%s failed to decode forwarded client command: %v", d.peer.Tag, err)
		return
	}
	d.proposeRaftCommand(cmd, nil)
}

// handleForwardedTransferLeader decodes the target peer id carried by a
// RaftMsgTransferLeader envelope and asks RaftGroup to transfer
// leadership directly. spec.md section 4.1 is explicit that this sub-tag
// never produces a log entry, so it bypasses propose_raft_command
// entirely rather than going through ProposeTransferLeader.
func (d *PeerMsgHandler) handleForwardedTransferLeader(msg *raft_serverpb.RaftMessage) {
	if len(msg.Data) != 8 {
		log.Warnf("%s dropping malformed transfer-leader message", d.peer.Tag)
		return
	}
	target := binary.BigEndian.Uint64(msg.Data)
	d.peer.RaftGroup.TransferLeader(target)
}

// onRaftMsg validates and steps an inbound peer-to-peer Raft message,
// spec.md section 4.6.
func (d *PeerMsgHandler) onRaftMsg(msg *raft_serverpb.RaftMessage) error {
	if !d.validateRaftMessage(msg) {
		return nil
	}
	if d.peer.PendingRemove {
		return nil
	}

	if d.checkMessage(msg) {
		d.handleStaleMsg(msg)
		return nil
	}

	if msg.Message == nil {
		return nil
	}
	return d.peer.Step(msg.Message)
}

// validateRaftMessage drops a message addressed to the wrong store,
// which should never happen but would otherwise corrupt this peer's
// Raft state if stepped anyway.
func (d *PeerMsgHandler) validateRaftMessage(msg *raft_serverpb.RaftMessage) bool {
	return msg.ToPeer != nil && msg.ToPeer.StoreId == d.cfg.StoreID
}

// checkMessage fences stale traffic by region membership (the region
// epoch is not compared): a message from a peer no longer in this
// region's membership is stale, and (unless it's
// a vote request, which must never be suppressed or the cluster could
// get stuck electing) is worth notifying the sender about so it can
// clean up, per spec.md's Open Question on epoch-comparison policy.
func (d *PeerMsgHandler) checkMessage(msg *raft_serverpb.RaftMessage) bool {
	region := d.peer.Region()
	if msg.FromPeer == nil {
		return false
	}
	if region.FindPeerByID(msg.FromPeer.Id) != nil {
		return false
	}
	isVoteMsg := msg.Message != nil && msg.Message.MsgType == eraftpb.MsgRequestVote
	if isVoteMsg {
		// Never suppress a vote request: dropping it silently can
		// prevent the cluster from ever electing a leader again.
		return false
	}
	return true
}

// handleStaleMsg replies to a sender that is no longer part of this
// region with a tombstone message, so it can stop trying.
func (d *PeerMsgHandler) handleStaleMsg(msg *raft_serverpb.RaftMessage) {
	gcMsg := &raft_serverpb.RaftMessage{
		RegionId:    msg.RegionId,
		FromPeer:    msg.ToPeer,
		ToPeer:      msg.FromPeer,
		RegionEpoch: d.peer.Region().RegionEpoch,
		IsTombstone: true,
	}
	if err := d.trans.Send(gcMsg); err != nil {
		log.Warnf("%s failed to send tombstone reply: %v", d.peer.Tag, err)
	}
}
