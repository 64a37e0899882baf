package raftstore

import (
	"bytes"

	"github.com/raftkv/raftkv/proto/eraftpb"
	"github.com/raftkv/raftkv/proto/metapb"
)

// InvalidID is never a legal peer or store id.
const InvalidID uint64 = 0

// CheckKeyInRegion reports whether key falls in [region.StartKey,
// region.EndKey), where an empty EndKey means unbounded.
func CheckKeyInRegion(key []byte, region *metapb.Region) bool {
	return bytes.Compare(key, region.StartKey) >= 0 &&
		(len(region.EndKey) == 0 || bytes.Compare(key, region.EndKey) < 0)
}

// FindPeer returns the peer hosted on storeID within region, or nil.
func FindPeer(region *metapb.Region, storeID uint64) *metapb.Peer {
	return region.FindPeer(storeID)
}

// RemovePeer returns a copy of region with the peer bearing peerID removed.
func RemovePeer(region *metapb.Region, peerID uint64) *metapb.Region {
	out := region.Clone()
	peers := out.Peers[:0]
	for _, p := range region.Peers {
		if p.Id != peerID {
			peers = append(peers, p)
		}
	}
	out.Peers = peers
	return out
}

// isInitialMsg reports whether msg is one a peer might receive before it
// has been created locally (a vote request, or a heartbeat with no
// committed index yet), in which case the sender attaches the region's
// key range so the recipient's store can decide whether to lazily create
// the peer.
func isInitialMsg(msg *eraftpb.Message) bool {
	return msg.MsgType == eraftpb.MsgRequestVote ||
		(msg.MsgType == eraftpb.MsgHeartbeat && msg.Commit == 0)
}
