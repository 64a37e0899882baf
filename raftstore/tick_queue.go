package raftstore

import "github.com/ngaut/log"

// TickQueue is the bounded channel of region ids each region's handler
// feeds (on Start and after every tick) and the store's ticker goroutine
// drains once per base-tick-interval, turning each id into a Tick
// message, the collaborator spec.md section 1 names "TickQueue". If the
// queue is full the tick for that round is dropped rather than blocking
// the region's worker, since a missed tick only delays an
// election/heartbeat deadline rather than losing data.
type TickQueue struct {
	ch chan uint64
}

func NewTickQueue(capacity int) *TickQueue {
	return &TickQueue{ch: make(chan uint64, capacity)}
}

func (q *TickQueue) Push(regionID uint64) {
	select {
	case q.ch <- regionID:
	default:
		log.Warnf("tick queue full, dropping tick for region %d", regionID)
	}
}

func (q *TickQueue) C() <-chan uint64 {
	return q.ch
}
