package blocklist

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const defaultUpdateIntervalHours = 24

// Scheduler keeps each node's lists warm even without read traffic, firing
// a forced refresh on an interval the node's own configuration controls
// (updateIntervalHours, default 24; absent or non-positive values take the
// default).
//
// Per node the lifecycle is unscheduled -> scheduled -> (fire) -> refreshing
// -> scheduled. Unscheduled doubles as the error-recovery state: when the
// configuration cannot be read the node stays unscheduled until a manual
// refresh or a configuration change re-triggers it.
type Scheduler struct {
	store *Store
	cfg   ConfigSource
	reg   NodeRegistry

	mu      sync.Mutex
	timers  map[string]*nodeTimer
	last    map[string]time.Time
	stopped bool
}

type nodeTimer struct {
	timer    *time.Timer
	stop     chan struct{}
	interval time.Duration
}

// NewScheduler wires a scheduler over the store and its collaborators.
func NewScheduler(store *Store, cfg ConfigSource, reg NodeRegistry) *Scheduler {
	return &Scheduler{
		store:  store,
		cfg:    cfg,
		reg:    reg,
		timers: make(map[string]*nodeTimer),
		last:   make(map[string]time.Time),
	}
}

// InitializeSchedules arms a recurring refresh for every node the registry
// knows about. A node whose configuration cannot be read is logged and left
// unscheduled; the rest proceed.
func (s *Scheduler) InitializeSchedules(ctx context.Context) error {
	nodes, err := s.reg.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("listing nodes: %w", err)
	}
	for _, node := range nodes {
		cfg, err := s.cfg.Config(ctx, node.ID)
		if err != nil {
			log.Warnf("node %s: reading config failed, leaving unscheduled: %v", node.ID, err)
			continue
		}
		s.store.ReconcileConfig(node.ID, cfg)
		s.arm(node.ID, updateInterval(cfg))
	}
	return nil
}

// ForceRefresh clears the node's cache, reloads its configuration,
// re-fetches every referenced list and re-arms the schedule (the interval
// may itself have changed since the last arm). Also the entry point for the
// manual refresh operation. Other nodes' caches and schedules are untouched.
func (s *Scheduler) ForceRefresh(ctx context.Context, nodeID string) error {
	s.store.ClearNode(nodeID)

	cfg, err := s.cfg.Config(ctx, nodeID)
	if err != nil {
		s.disarm(nodeID)
		return fmt.Errorf("node %s: reading config: %w", nodeID, err)
	}
	s.store.ReconcileConfig(nodeID, cfg)
	s.store.PrefetchNode(ctx, nodeID, cfg)

	now := time.Now()
	s.mu.Lock()
	s.last[nodeID] = now
	s.mu.Unlock()
	setLastRefresh(nodeID, now.Unix())

	s.arm(nodeID, updateInterval(cfg))
	log.Infof("node %s: forced refresh complete, next in %s", nodeID, updateInterval(cfg))
	return nil
}

// LastRefreshed reports when the node last completed a forced refresh.
func (s *Scheduler) LastRefreshed(nodeID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.last[nodeID]
	return t, ok
}

// Interval returns the refresh interval the node is currently armed with.
func (s *Scheduler) Interval(nodeID string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nt, ok := s.timers[nodeID]
	if !ok {
		return 0, false
	}
	return nt.interval, true
}

// Stop cancels every timer. No timer fires after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, nt := range s.timers {
		close(nt.stop)
		nt.timer.Stop()
		delete(s.timers, id)
	}
}

// arm replaces the node's timer with a fresh one-shot timer. Replacing under
// the mutex means the old and new timer can never both fire.
func (s *Scheduler) arm(nodeID string, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.timers[nodeID]; ok {
		close(old.stop)
		old.timer.Stop()
	}
	nt := &nodeTimer{
		timer:    time.NewTimer(interval),
		stop:     make(chan struct{}),
		interval: interval,
	}
	s.timers[nodeID] = nt
	go s.wait(nodeID, nt)
}

func (s *Scheduler) disarm(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nt, ok := s.timers[nodeID]; ok {
		close(nt.stop)
		nt.timer.Stop()
		delete(s.timers, nodeID)
	}
}

func (s *Scheduler) wait(nodeID string, nt *nodeTimer) {
	select {
	case <-nt.stop:
		return
	case <-nt.timer.C:
	}
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	// ForceRefresh re-arms on success; a config failure leaves the node
	// unscheduled per the lifecycle above.
	if err := s.ForceRefresh(context.Background(), nodeID); err != nil {
		log.Warnf("scheduled refresh failed: %v", err)
	}
}

// updateInterval derives the refresh interval from a node's configuration.
func updateInterval(cfg *NodeConfig) time.Duration {
	hours := float64(defaultUpdateIntervalHours)
	if cfg != nil && cfg.UpdateIntervalHours > 0 {
		hours = cfg.UpdateIntervalHours
	}
	return time.Duration(hours * float64(time.Hour))
}
