package chat

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper runs the idle-session eviction on a cron schedule so session
// memory stays bounded without a hard-coded duration.
type Sweeper struct {
	manager *Manager
	cron    *cron.Cron
	logger  zerolog.Logger
}

// NewSweeper schedules manager.Sweep on the given cron spec
// (e.g. "@every 1m").
func NewSweeper(manager *Manager, schedule string, logger zerolog.Logger) (*Sweeper, error) {
	c := cron.New()
	s := &Sweeper{manager: manager, cron: c, logger: logger}

	if _, err := c.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the sweep schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info().Msg("Session sweeper started")
}

// Stop halts the schedule; a sweep already running completes.
func (s *Sweeper) Stop() {
	s.cron.Stop()
	s.logger.Info().Msg("Session sweeper stopped")
}

func (s *Sweeper) run() {
	if evicted := s.manager.Sweep(); evicted > 0 {
		s.logger.Info().Int("evicted", evicted).Msg("Idle sessions evicted")
	}
}
