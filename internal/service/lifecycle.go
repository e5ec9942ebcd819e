package service

import (
	"context"
	"errors"

	"github.com/iolipix/JuriNapse-sub001/internal/audit"
	"github.com/iolipix/JuriNapse-sub001/internal/consumer"
	"github.com/iolipix/JuriNapse-sub001/internal/domain"
	"github.com/iolipix/JuriNapse-sub001/internal/store"
	pkglog "github.com/iolipix/JuriNapse-sub001/pkg/log"
)

// HandleUserEvent mirrors account lifecycle changes into the graph.
// Redelivered events are absorbed without error.
func (s *socialGraphService) HandleUserEvent(ctx context.Context, event *consumer.UserEvent) error {
	l := pkglog.Ctx(ctx)

	switch event.Type {
	case consumer.EventUserRegistered:
		err := s.store.Create(ctx, recordFromEvent(event))
		if errors.Is(err, store.ErrUserExists) {
			l.Debug().Msg("user already registered, skipping")
			return nil
		}
		if err != nil {
			return storeFailure("create user", err)
		}
		return nil

	case consumer.EventUserUpdated:
		err := s.store.UpdateProfile(ctx, recordFromEvent(event))
		if errors.Is(err, store.ErrUserNotFound) {
			l.Warn().Msg("update for unknown user, skipping")
			return nil
		}
		if err != nil {
			return storeFailure("update user", err)
		}
		return nil

	case consumer.EventUserDeleted:
		return s.removeUser(ctx, event.UserID)

	default:
		l.Warn().Str("event_type", event.Type).Msg("unknown user event, skipping")
		return nil
	}
}

// removeUser soft-deletes the user and sweeps its id out of every
// neighbour's following and followers sets.
func (s *socialGraphService) removeUser(ctx context.Context, id string) error {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil
		}
		return storeFailure("load user", err)
	}

	if err := s.store.MarkDeleted(ctx, id); err != nil && !errors.Is(err, store.ErrUserNotFound) {
		return storeFailure("delete user", err)
	}

	for _, other := range rec.Following {
		if _, err := s.store.RemoveMember(ctx, other, domain.RelationFollowers, id); err != nil && !errors.Is(err, store.ErrUserNotFound) {
			return storeFailure("sweep follower", err)
		}
	}
	for _, other := range rec.Followers {
		if _, err := s.store.RemoveMember(ctx, other, domain.RelationFollowing, id); err != nil && !errors.Is(err, store.ErrUserNotFound) {
			return storeFailure("sweep following", err)
		}
	}

	audit.LogFields(ctx, audit.ActionUserDeleted, id, map[string]interface{}{
		"following_swept": len(rec.Following),
		"followers_swept": len(rec.Followers),
	}, "user removed from graph")
	return nil
}

func recordFromEvent(e *consumer.UserEvent) *domain.UserRecord {
	return &domain.UserRecord{
		ID:           e.UserID,
		Username:     e.Username,
		FirstName:    e.FirstName,
		LastName:     e.LastName,
		AvatarRef:    e.AvatarRef,
		Bio:          e.Bio,
		Organization: e.Organization,
		Hidden:       e.Hidden,
	}
}
