package raftstore

import (
	"fmt"

	"github.com/ngaut/log"

	"github.com/raftkv/raftkv/config"
	"github.com/raftkv/raftkv/engine_util"
	"github.com/raftkv/raftkv/proto/eraftpb"
	"github.com/raftkv/raftkv/proto/metapb"
	"github.com/raftkv/raftkv/proto/raft_cmdpb"
	"github.com/raftkv/raftkv/proto/raft_serverpb"
	"github.com/raftkv/raftkv/raft"
	"github.com/raftkv/raftkv/raftstore/message"
)

// proposal tracks one client command this peer's RaftNode accepted,
// keyed by the (index, term) at which it was logged, so the apply loop
// can match a committed entry back to the Callback waiting on it.
type proposal struct {
	index        uint64
	term         uint64
	isConfChange bool
	cb           *message.Callback
}

// Peer is the in-memory half of one region replica hosted on this
// store: the RaftNode driving consensus, the PeerStorage persisting it,
// and the queue of proposals awaiting a committed response. It mirrors
// the shape of the teacher's raftstore.Peer, trimmed to the synchronous
// single-handler model spec.md describes.
type Peer struct {
	Meta     *metapb.Peer
	regionId uint64

	RaftGroup   raft.RaftNode
	peerStorage *PeerStorage

	applyProposals []*proposal
	peerCache      map[uint64]*metapb.Peer

	Tag string

	PendingRemove bool
}

func NewPeer(storeId uint64, cfg *config.Config, kv, raftEngine engine_util.KvEngine, region *metapb.Region, node raft.RaftNode, peer *metapb.Peer) (*Peer, error) {
	if peer.Id == InvalidID {
		return nil, fmt.Errorf("invalid peer id")
	}
	tag := fmt.Sprintf("[region %d] %d", region.Id, peer.Id)

	ps, err := NewPeerStorage(kv, raftEngine, region, tag)
	if err != nil {
		return nil, err
	}

	return &Peer{
		Meta:        peer,
		regionId:    region.Id,
		RaftGroup:   node,
		peerStorage: ps,
		peerCache:   make(map[uint64]*metapb.Peer),
		Tag:         tag,
	}, nil
}

func (p *Peer) insertPeerCache(peer *metapb.Peer) {
	p.peerCache[peer.Id] = peer
}

func (p *Peer) removePeerCache(peerID uint64) {
	delete(p.peerCache, peerID)
}

func (p *Peer) getPeerFromCache(peerID uint64) *metapb.Peer {
	if peer, ok := p.peerCache[peerID]; ok {
		return peer
	}
	for _, peer := range p.Region().Peers {
		if peer.Id == peerID {
			p.insertPeerCache(peer)
			return peer
		}
	}
	return nil
}

func (p *Peer) RegionId() uint64 { return p.regionId }

func (p *Peer) Region() *metapb.Region { return p.peerStorage.Region() }

func (p *Peer) SetRegion(region *metapb.Region) { p.peerStorage.SetRegion(region) }

func (p *Peer) PeerId() uint64 { return p.Meta.Id }

func (p *Peer) Store() *PeerStorage { return p.peerStorage }

func (p *Peer) Term() uint64 { return p.RaftGroup.Status().Term }

func (p *Peer) LeaderId() uint64 { return p.RaftGroup.Status().Lead }

func (p *Peer) IsLeader() bool { return p.RaftGroup.Status().RaftState == eraftpb.StateLeader }

// Step feeds an inbound Raft message to RaftGroup.
func (p *Peer) Step(m *eraftpb.Message) error {
	return p.RaftGroup.Step(*m)
}

// Send wraps each outbound Raft message with this region's envelope and
// hands it to trans, skipping any message whose recipient peer is not
// yet known to this peer's cache.
func (p *Peer) Send(trans Transport, msgs []eraftpb.Message) {
	for i := range msgs {
		if err := p.sendRaftMessage(msgs[i], trans); err != nil {
			log.Warnf("%s failed to send raft message: %v", p.Tag, err)
		}
	}
}

func (p *Peer) sendRaftMessage(msg eraftpb.Message, trans Transport) error {
	toPeer := p.getPeerFromCache(msg.To)
	if toPeer == nil {
		return fmt.Errorf("failed to look up recipient peer %d in region %d", msg.To, p.regionId)
	}
	sendMsg := &raft_serverpb.RaftMessage{
		RegionId:    p.regionId,
		FromPeer:    p.Meta,
		ToPeer:      toPeer,
		RegionEpoch: p.Region().RegionEpoch,
		Message:     &msg,
	}
	if p.Store().isInitialized() && isInitialMsg(&msg) {
		sendMsg.StartKey = append([]byte(nil), p.Region().StartKey...)
		sendMsg.EndKey = append([]byte(nil), p.Region().EndKey...)
	}
	return trans.Send(sendMsg)
}

func (p *Peer) nextProposalIndex() uint64 {
	last := p.RaftGroup.Status().Commit
	if n := len(p.applyProposals); n > 0 && p.applyProposals[n-1].index > last {
		last = p.applyProposals[n-1].index
	}
	return last + 1
}

// PostPropose records the (index, term) a just-accepted proposal was
// logged at, so the apply loop can later match it to a committed entry.
func (p *Peer) PostPropose(index, term uint64, isConfChange bool, cb *message.Callback) {
	p.applyProposals = append(p.applyProposals, &proposal{
		index:        index,
		term:         term,
		isConfChange: isConfChange,
		cb:           cb,
	})
}

// findProposal pops the tracked proposal for entry (index, term),
// notifying every older, now-orphaned proposal of a stale command along
// the way; a proposal at this index with a different term is popped and
// notified the same way. Returns nil if no proposal matches,
// meaning this entry was committed by a different leader and nothing on
// this peer is waiting on it.
func (p *Peer) findProposal(index, term uint64) *proposal {
	for len(p.applyProposals) > 0 {
		pr := p.applyProposals[0]
		if pr.index < index {
			p.applyProposals = p.applyProposals[1:]
			message.NotifyStaleReq(term, pr.cb)
			continue
		}
		if pr.index == index {
			p.applyProposals = p.applyProposals[1:]
			if pr.term != term {
				message.NotifyStaleReq(term, pr.cb)
				return nil
			}
			return pr
		}
		break
	}
	return nil
}

// RequestPolicy classifies a RaftCmdRequest into the proposal path it
// must take, spec.md section 4.5's dispatch step.
type RequestPolicy int

const (
	RequestPolicyProposeNormal RequestPolicy = iota
	RequestPolicyProposeTransferLeader
	RequestPolicyProposeConfChange
)

func (p *Peer) inspect(req *raft_cmdpb.RaftCmdRequest) RequestPolicy {
	if req.AdminRequest != nil {
		switch req.AdminRequest.CmdType {
		case raft_cmdpb.AdminCmdChangePeer:
			return RequestPolicyProposeConfChange
		case raft_cmdpb.AdminCmdTransferLeader:
			return RequestPolicyProposeTransferLeader
		}
	}
	return RequestPolicyProposeNormal
}

func (p *Peer) ProposeNormal(cfg *config.Config, req *raft_cmdpb.RaftCmdRequest) (uint64, error) {
	data, err := req.Marshal()
	if err != nil {
		return 0, err
	}
	if uint64(len(data)) > cfg.RaftEntryMaxSize {
		return 0, &ErrRaftEntryTooLarge{RegionId: p.regionId, EntrySize: uint64(len(data))}
	}

	proposeIndex := p.nextProposalIndex()
	if err := p.RaftGroup.Propose(data); err != nil {
		return 0, err
	}
	return proposeIndex, nil
}

func (p *Peer) ProposeConfChange(cfg *config.Config, req *raft_cmdpb.RaftCmdRequest) (uint64, error) {
	if err := p.checkConfChange(cfg, req); err != nil {
		return 0, err
	}
	data, err := req.Marshal()
	if err != nil {
		return 0, err
	}
	changePeer := req.AdminRequest.ChangePeer
	cc := eraftpb.ConfChange{ChangeType: changePeer.ChangeType, NodeId: changePeer.Peer.Id, Context: data}

	proposeIndex := p.nextProposalIndex()
	if err := p.RaftGroup.ProposeConfChange(cc); err != nil {
		return 0, err
	}
	return proposeIndex, nil
}

// checkConfChange rejects a conf change that would remove the current
// leader unless the config explicitly allows it, per spec.md section
// 4.4's membership-mutation edge case.
func (p *Peer) checkConfChange(cfg *config.Config, req *raft_cmdpb.RaftCmdRequest) error {
	changePeer := req.AdminRequest.ChangePeer
	if changePeer == nil || changePeer.Peer == nil {
		return fmt.Errorf("malformed change peer request")
	}
	if changePeer.ChangeType == eraftpb.ConfChangeRemoveNode && !cfg.AllowRemoveLeader && changePeer.Peer.Id == p.PeerId() {
		log.Warnf("%s rejects remove leader request %v", p.Tag, changePeer)
		return fmt.Errorf("ignore remove leader")
	}
	return nil
}

func (p *Peer) ProposeTransferLeader(req *raft_cmdpb.RaftCmdRequest, cb *message.Callback) {
	transferLeader := req.AdminRequest.TransferLeader
	p.RaftGroup.TransferLeader(transferLeader.Peer.Id)
	cb.Done(makeTransferLeaderResponse())
}

func makeTransferLeaderResponse() *raft_cmdpb.RaftCmdResponse {
	return &raft_cmdpb.RaftCmdResponse{
		Header: &raft_cmdpb.ResponseHeader{},
		AdminResponse: &raft_cmdpb.AdminResponse{
			CmdType:        raft_cmdpb.AdminCmdTransferLeader,
			TransferLeader: &raft_cmdpb.TransferLeaderResponse{},
		},
	}
}
