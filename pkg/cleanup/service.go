// Package cleanup provides data retention for finished sessions.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/persistence"
)

// Service periodically purges sessions that finished before the retention
// window, together with their utterances, interventions, interruptions,
// and transcripts. Purges are idempotent and safe to run from multiple
// replicas.
type Service struct {
	config  *config.RetentionConfig
	gateway persistence.Gateway
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service. logger may be nil.
func NewService(cfg *config.RetentionConfig, gw persistence.Gateway, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config:  cfg,
		gateway: gw,
		logger:  logger.With("component", "cleanup"),
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("cleanup service started",
		"session_retention_days", s.config.SessionRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.SessionRetentionDays)
	count, err := s.gateway.PurgeSessionsEndedBefore(ctx, cutoff)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("retention purge failed", "error", err)
		}
		return
	}
	if count > 0 {
		s.logger.Info("purged expired sessions", "count", count, "cutoff", cutoff)
	}
}
