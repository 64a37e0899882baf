package raftstore

import (
	"time"

	"github.com/ngaut/log"

	"github.com/raftkv/raftkv/config"
	"github.com/raftkv/raftkv/engine_util"
	"github.com/raftkv/raftkv/raftstore/message"
)

// Store is the process-level collaborator that wires the rest of this
// package into a running whole: it owns the Router every region's worker
// goroutine reads from, the TickQueue the base ticker drains, and the
// StoreMeta every conf change updates. spec.md section 2 names
// TickQueue and StoreMeta as process-wide collaborators but leaves their
// driving loop implicit ("a separate driver invokes handle_raft_ready");
// Store is that driver, grounded on the teacher's raftstore.go /
// raftWorker orchestration (not itself carried into this module, since it
// imports the original tinykv module path — see DESIGN.md's "Deleted
// teacher modules").
type Store struct {
	cfg   *config.Config
	trans Transport
	kv    engine_util.KvEngine

	router    *Router
	ticks     *TickQueue
	storeMeta *StoreMeta

	handlers map[uint64]*PeerMsgHandler

	stopCh chan struct{}
}

// NewStore builds a Store with an idle Router and TickQueue sized per cfg.
func NewStore(cfg *config.Config, trans Transport, kv engine_util.KvEngine) *Store {
	return &Store{
		cfg:       cfg,
		trans:     trans,
		kv:        kv,
		router:    NewRouter(cfg.RaftWorkerCount),
		ticks:     NewTickQueue(cfg.TickQueueCapacity),
		storeMeta: NewStoreMeta(),
		handlers:  make(map[uint64]*PeerMsgHandler),
		stopCh:    make(chan struct{}),
	}
}

func (s *Store) StoreMeta() *StoreMeta { return s.storeMeta }

func (s *Store) Router() *Router { return s.router }

// RegisterPeer hands this store a newly created region replica: it is
// assigned to a worker, given this store's TickQueue, and sent a Start
// message so its tick schedule begins, per spec.md section 4.1.
func (s *Store) RegisterPeer(handler *PeerMsgHandler) {
	regionID := handler.peer.RegionId()
	handler.WithTickQueue(s.ticks)
	handler.WithRouter(s.router)
	s.handlers[regionID] = handler
	s.storeMeta.SetRegion(handler.peer.Region())
	s.router.Register(regionID)
	if err := s.router.Send(regionID, message.NewPeerMsg(message.MsgTypeStart, regionID, nil)); err != nil {
		log.Errorf("%s failed to start region: %v", handler.peer.Tag, err)
	}
}

// Run starts one goroutine per router worker bucket, draining its channel
// and dispatching every Msg to the owning region's handler, plus the base
// ticker goroutine that periodically drains TickQueue and turns each
// pending region id into a Tick message. It returns once every worker
// goroutine has been launched; call Stop to shut them down.
func (s *Store) Run() {
	for i := 0; i < s.router.WorkerCount(); i++ {
		go s.runWorker(s.router.Worker(i))
	}
	go s.runTicker()
}

// Stop shuts down every worker and ticker goroutine and releases every
// still-registered region's router bucket, so nothing is left pointing
// at a worker channel that will never be drained again.
func (s *Store) Stop() {
	close(s.stopCh)
	for regionID := range s.handlers {
		s.router.Close(regionID)
	}
}

func (s *Store) runWorker(ch <-chan message.Msg) {
	for {
		select {
		case msg := <-ch:
			handler, ok := s.handlers[msg.RegionID]
			if !ok {
				log.Warnf("dropping message for unregistered region %d", msg.RegionID)
				continue
			}
			handler.HandleMsg(msg)
		case <-s.stopCh:
			return
		}
	}
}

// runTicker is the single clock source every region's tick schedule is
// driven from: once per RaftBaseTickInterval it drains every region id
// currently queued and forwards a Tick message for each, decoupling the
// source of ticks (this ticker, plus each region rescheduling itself)
// from their destination (each region's own worker), per spec.md section
// 2's description of TickQueue.
func (s *Store) runTicker() {
	ticker := time.NewTicker(s.cfg.RaftBaseTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.drainTicks()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) drainTicks() {
	for {
		select {
		case regionID := <-s.ticks.C():
			if err := s.router.SendTick(regionID); err != nil {
				log.Warnf("failed to deliver tick to region %d: %v", regionID, err)
			}
		default:
			return
		}
	}
}
