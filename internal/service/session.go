package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/Harshitk-cp/resona/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SessionService struct {
	store  domain.SessionStore
	logger *zap.Logger
	now    func() time.Time
}

func NewSessionService(store domain.SessionStore, logger *zap.Logger) *SessionService {
	return &SessionService{store: store, logger: logger, now: time.Now}
}

// Create registers a session. An empty id gets a generated one.
func (s *SessionService) Create(ctx context.Context, sess *domain.Session) error {
	sess.ID = strings.TrimSpace(sess.ID)
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.ActorType == "" {
		sess.ActorType = domain.ActorUser
	}
	if !domain.ValidActorType(string(sess.ActorType)) {
		return ErrInvalidActor
	}
	sess.ActorID = strings.TrimSpace(sess.ActorID)
	if sess.ActorID == "" {
		return ErrActorIDMissing
	}
	sess.StartedAt = s.now().UTC().Truncate(time.Microsecond)
	sess.EndedAt = nil

	err := s.store.Create(ctx, sess)
	if errors.Is(err, store.ErrConflict) {
		return ErrSessionExists
	}
	if err != nil {
		return storeErr(err)
	}
	s.logger.Info("session started", zap.String("session_id", sess.ID))
	return nil
}

func (s *SessionService) Get(ctx context.Context, id string) (*domain.Session, error) {
	if id == "" {
		return nil, ErrSessionIDMissing
	}
	sess, err := s.store.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return sess, nil
}

func (s *SessionService) List(ctx context.Context, limit int) ([]domain.Session, error) {
	out, err := s.store.List(ctx, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// End marks the session finished. Ending twice keeps the first end time.
func (s *SessionService) End(ctx context.Context, id string) (*domain.Session, error) {
	if id == "" {
		return nil, ErrSessionIDMissing
	}
	sess, err := s.store.End(ctx, id, s.now().UTC().Truncate(time.Microsecond))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	s.logger.Info("session ended", zap.String("session_id", id))
	return sess, nil
}
