// Package service orchestrates clarification sessions: it owns the store,
// serializes writes per session, projects wire responses and publishes
// lifecycle events.
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/creatoria/clarifier/internal/clarify/repository"
	"github.com/creatoria/clarifier/internal/clarify/session"
	"github.com/creatoria/clarifier/internal/common/config"
	"github.com/creatoria/clarifier/internal/common/logger"
	"github.com/creatoria/clarifier/internal/events/bus"
	v1 "github.com/creatoria/clarifier/pkg/api/v1"
)

const eventSource = "clarifier"

// Service coordinates the clarification loop.
type Service struct {
	store    repository.Store
	eventBus bus.EventBus
	cfg      config.SessionConfig
	logger   *logger.Logger

	// One mutex per live session: answers for the same session are applied
	// strictly in arrival order, sessions never block each other.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	stopReaper    chan struct{}
	reaperDone    chan struct{}
	reaperStarted bool
}

// NewService creates a clarification service.
func NewService(store repository.Store, eventBus bus.EventBus, cfg config.SessionConfig, log *logger.Logger) *Service {
	return &Service{
		store:      store,
		eventBus:   eventBus,
		cfg:        cfg,
		logger:     log,
		locks:      make(map[string]*sync.Mutex),
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
}

// Start begins a clarification session for a draft solver input. When the
// draft is already complete no session is created and the input is returned
// as-is with need_clarification unset.
func (s *Service) Start(ctx context.Context, input *v1.SolverInput, declared []string) (*v1.ClarificationResponse, error) {
	sess := session.New(input, declared, s.cfg.MaxAttempts)
	if sess == nil {
		s.logger.Info("Input complete, no clarification needed")
		return &v1.ClarificationResponse{
			NeedClarification: false,
			SolverInput:       input,
		}, nil
	}

	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}

	s.publish(ctx, bus.SubjectSessionStarted, map[string]any{
		"session_id": sess.ID,
		"fields":     fieldIDs(sess),
	})
	s.logger.WithSessionID(sess.ID).Info("Clarification session started",
		zap.Int("fields", len(sess.Fields)))

	return s.snapshot(sess, nil), nil
}

// Answer applies one answer to a session's active field.
func (s *Service) Answer(ctx context.Context, sessionID, fieldID, answer string) (*v1.ClarificationResponse, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out, err := sess.SubmitAnswer(fieldID, answer)
	if err != nil {
		// Stale answers leave the session untouched, so there is nothing
		// to save.
		return nil, err
	}

	log := s.logger.WithSessionID(sessionID).WithFieldID(fieldID)
	switch {
	case out.Accepted:
		s.publish(ctx, bus.SubjectAnswerAccepted, map[string]any{
			"session_id": sessionID,
			"field_id":   fieldID,
		})
		log.Info("Answer accepted")
	case out.AutoDefault:
		s.publish(ctx, bus.SubjectFieldDefaulted, map[string]any{
			"session_id": sessionID,
			"field_id":   fieldID,
			"default":    out.DefaultValue,
			"attempts":   out.Attempts,
		})
		log.Info("Field defaulted after exhausted attempts",
			zap.Any("default", out.DefaultValue))
	default:
		s.publish(ctx, bus.SubjectAnswerRejected, map[string]any{
			"session_id":    sessionID,
			"field_id":      fieldID,
			"reason":        out.Reason,
			"conflict_with": out.ConflictWith,
			"attempts":      out.Attempts,
		})
		log.Info("Answer rejected",
			zap.String("reason", out.Reason),
			zap.String("conflict_with", out.ConflictWith))
	}

	if sess.Complete() {
		return s.complete(ctx, sess, out)
	}

	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return s.snapshot(sess, out), nil
}

// Get returns the current state of a session without changing it.
func (s *Service) Get(ctx context.Context, sessionID string) (*v1.ClarificationResponse, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.snapshot(sess, nil), nil
}

// Reopen puts a terminal field back under clarification.
func (s *Service) Reopen(ctx context.Context, sessionID, fieldID string) (*v1.ClarificationResponse, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Reopen(fieldID); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}

	s.publish(ctx, bus.SubjectFieldReopened, map[string]any{
		"session_id": sessionID,
		"field_id":   fieldID,
	})
	s.logger.WithSessionID(sessionID).WithFieldID(fieldID).Info("Field reopened")

	return s.snapshot(sess, nil), nil
}

// Abandon discards a session without completing it.
func (s *Service) Abandon(ctx context.Context, sessionID string) error {
	unlock := s.lockSession(sessionID)
	defer unlock()

	if _, err := s.store.Get(ctx, sessionID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.dropLock(sessionID)

	s.publish(ctx, bus.SubjectSessionAbandoned, map[string]any{
		"session_id": sessionID,
	})
	s.logger.WithSessionID(sessionID).Info("Session abandoned")
	return nil
}

// complete finishes a session: the completed solver input is published and
// returned, and the session is removed from the store.
func (s *Service) complete(ctx context.Context, sess *session.Session, out *session.Outcome) (*v1.ClarificationResponse, error) {
	if err := s.store.Delete(ctx, sess.ID); err != nil {
		return nil, err
	}
	s.dropLock(sess.ID)

	s.publish(ctx, bus.SubjectSessionCompleted, map[string]any{
		"session_id":   sess.ID,
		"solver_input": sess.Input,
	})
	s.logger.WithSessionID(sess.ID).Info("Clarification session completed")

	resp := &v1.ClarificationResponse{
		SessionID:         sess.ID,
		NeedClarification: false,
		SolverInput:       sess.Input,
		History:           sess.History,
	}
	applyOutcome(resp, out)
	return resp, nil
}

// snapshot projects a live session into the wire response.
func (s *Service) snapshot(sess *session.Session, out *session.Outcome) *v1.ClarificationResponse {
	resp := &v1.ClarificationResponse{
		SessionID:         sess.ID,
		NeedClarification: true,
		Request:           sess.Request(),
		SolverInput:       sess.Input,
		History:           sess.History,
	}
	applyOutcome(resp, out)
	return resp
}

func applyOutcome(resp *v1.ClarificationResponse, out *session.Outcome) {
	if out == nil {
		return
	}
	accepted := out.Accepted
	attempts := out.Attempts
	resp.Accepted = &accepted
	resp.Attempts = &attempts
	resp.AutoDefault = out.AutoDefault
	resp.DefaultValue = out.DefaultValue
	resp.Reason = out.Reason
	resp.ConflictWith = out.ConflictWith
}

func fieldIDs(sess *session.Session) []string {
	ids := make([]string, 0, len(sess.Fields))
	for _, f := range sess.Fields {
		ids = append(ids, f.ID)
	}
	return ids
}

// lockSession acquires the per-session mutex, creating it on first use.
func (s *Service) lockSession(sessionID string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[sessionID] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (s *Service) dropLock(sessionID string) {
	s.locksMu.Lock()
	delete(s.locks, sessionID)
	s.locksMu.Unlock()
}

func (s *Service) publish(ctx context.Context, subject string, data map[string]any) {
	if s.eventBus == nil {
		return
	}
	event := bus.NewEvent(subject, eventSource, data)
	if err := s.eventBus.Publish(ctx, subject, event); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// StartReaper launches the background loop that removes idle sessions.
func (s *Service) StartReaper(ctx context.Context) {
	s.reaperStarted = true
	go func() {
		defer close(s.reaperDone)

		ticker := time.NewTicker(s.cfg.ReapIntervalDuration())
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-s.cfg.IdleTimeoutDuration())
				n, err := s.store.ReapIdle(ctx, cutoff)
				if err != nil {
					s.logger.Warn("Session reaper failed", zap.Error(err))
					continue
				}
				if n > 0 {
					s.logger.Info("Reaped idle sessions", zap.Int("count", n))
				}
			case <-s.stopReaper:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop shuts down the reaper.
func (s *Service) Stop() {
	close(s.stopReaper)
	if s.reaperStarted {
		<-s.reaperDone
	}
}
