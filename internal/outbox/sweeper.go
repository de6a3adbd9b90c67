package outbox

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Handler finishes or reverses one interrupted operation. Handlers must be
// idempotent; the sweep may run them more than once.
type Handler func(ctx context.Context, payload json.RawMessage) error

type journalSource interface {
	Pending(ctx context.Context, olderThan time.Duration) ([]Entry, error)
	Done(ctx context.Context, id int64) error
}

// Sweeper replays stale journal entries through their registered handlers at
// process start.
type Sweeper struct {
	journal  journalSource
	handlers map[string]Handler
	log      *zap.Logger
}

// NewSweeper constructs a sweeper with no handlers registered.
func NewSweeper(journal journalSource, log *zap.Logger) *Sweeper {
	return &Sweeper{
		journal:  journal,
		handlers: make(map[string]Handler),
		log:      log,
	}
}

// Register installs the handler for one operation kind.
func (s *Sweeper) Register(kind string, h Handler) {
	s.handlers[kind] = h
}

// Sweep runs every pending entry older than the grace period through its
// handler, discarding entries whose handler succeeds. Handler failures leave
// the entry for the next sweep.
func (s *Sweeper) Sweep(ctx context.Context, olderThan time.Duration) error {
	entries, err := s.journal.Pending(ctx, olderThan)
	if err != nil {
		return err
	}

	for _, e := range entries {
		h, ok := s.handlers[e.Kind]
		if !ok {
			s.log.Warn("no recovery handler for outbox entry",
				zap.Int64("id", e.ID), zap.String("kind", e.Kind))
			continue
		}
		if err := h(ctx, e.Payload); err != nil {
			s.log.Error("outbox recovery failed",
				zap.Int64("id", e.ID), zap.String("kind", e.Kind), zap.Error(err))
			continue
		}
		if err := s.journal.Done(ctx, e.ID); err != nil {
			return err
		}
		s.log.Info("recovered interrupted operation",
			zap.Int64("id", e.ID), zap.String("kind", e.Kind))
	}
	return nil
}
