package room

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// IdleSweepable is anything holding per-room state with an idle cutoff.
// The drawing registry and the CRDT relay both qualify.
type IdleSweepable interface {
	SweepIdle(ttl time.Duration) []string
}

// Sweeper periodically deletes long-idle rooms from every registered
// target. It is a defensive cleanup, not the primary lifecycle mechanism
// (that remains last-leave deletion).
type Sweeper struct {
	targets  []IdleSweepable
	interval time.Duration
	ttl      time.Duration
	log      *zap.SugaredLogger
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewSweeper(interval, ttl time.Duration, log *zap.SugaredLogger, targets ...IdleSweepable) *Sweeper {
	return &Sweeper{
		targets:  targets,
		interval: interval,
		ttl:      ttl,
		log:      log,
		stop:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Infow("room sweeper started", "interval", s.interval, "ttl", s.ttl)
}

func (s *Sweeper) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepAll()
		}
	}
}

func (s *Sweeper) sweepAll() {
	for _, t := range s.targets {
		t.SweepIdle(s.ttl)
	}
}
