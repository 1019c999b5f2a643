package realtime

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Sweeper runs the periodic presence sweep. SkipIfStillRunning
// guarantees a running sweep (including its notification fan-out)
// finishes before the next tick starts.
type Sweeper struct {
	presence *Presence
	cron     *cron.Cron
	interval time.Duration
	timeout  time.Duration
}

func NewSweeper(presence *Presence, interval, timeout time.Duration) *Sweeper {
	return &Sweeper{
		presence: presence,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		interval: interval,
		timeout:  timeout,
	}
}

// Start schedules the sweep on its fixed interval.
func (s *Sweeper) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	_, err := s.cron.AddFunc(spec, func() {
		s.presence.SweepOnce(s.timeout)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule heartbeat sweep: %w", err)
	}

	s.cron.Start()
	log.Infof("🧹 Heartbeat sweeper started (every %s, timeout %s)", s.interval, s.timeout)
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("🧹 Heartbeat sweeper stopped")
}
