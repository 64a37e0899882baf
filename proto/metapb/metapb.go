// Package metapb describes the cluster metadata that flows through the
// raftstore: stores, peers, regions and their epochs. It mirrors the shape
// of tinykv's generated proto/pkg/metapb package closely enough that the
// raftstore code reads the same way, without depending on a protoc toolchain.
package metapb

// Peer is one replica of a Region, hosted on one Store.
type Peer struct {
	Id      uint64
	StoreId uint64
}

// RegionEpoch fences stale requests against membership and range changes.
// ConfVer increases on every membership change, Version on every split/merge.
type RegionEpoch struct {
	ConfVer uint64
	Version uint64
}

// Region is a contiguous key range replicated by one Raft group.
type Region struct {
	Id          uint64
	StartKey    []byte
	EndKey      []byte
	RegionEpoch *RegionEpoch
	Peers       []*Peer
}

// Clone makes a deep copy of the region, the way CloneMsg does for
// protobuf messages in the teacher's util package.
func (r *Region) Clone() *Region {
	if r == nil {
		return nil
	}
	out := &Region{
		Id:       r.Id,
		StartKey: append([]byte(nil), r.StartKey...),
		EndKey:   append([]byte(nil), r.EndKey...),
	}
	if r.RegionEpoch != nil {
		epoch := *r.RegionEpoch
		out.RegionEpoch = &epoch
	}
	out.Peers = make([]*Peer, len(r.Peers))
	for i, p := range r.Peers {
		peer := *p
		out.Peers[i] = &peer
	}
	return out
}

// FindPeer returns the peer hosted on storeID, or nil.
func (r *Region) FindPeer(storeID uint64) *Peer {
	for _, p := range r.Peers {
		if p.StoreId == storeID {
			return p
		}
	}
	return nil
}

// FindPeerByID returns the peer with the given id, or nil.
func (r *Region) FindPeerByID(id uint64) *Peer {
	for _, p := range r.Peers {
		if p.Id == id {
			return p
		}
	}
	return nil
}
