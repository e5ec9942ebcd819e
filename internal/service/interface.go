package service

import (
	"context"
	"errors"

	"github.com/iolipix/JuriNapse-sub001/internal/consumer"
	"github.com/iolipix/JuriNapse-sub001/internal/domain"
)

// Error kinds returned by SocialGraphService. Store failures wrap
// ErrStoreFailure together with the underlying error.
var (
	ErrNotFound       = errors.New("user not found")
	ErrSelfReference  = errors.New("cannot target yourself")
	ErrAlreadyExists  = errors.New("already following")
	ErrNotFollowing   = errors.New("not following")
	ErrAlreadyBlocked = errors.New("already blocked")
	ErrNotBlocked     = errors.New("not blocked")
	ErrBlocked        = errors.New("user is blocked")
	ErrStoreFailure   = errors.New("store failure")
)

// SocialGraphService owns the follow and block graph between users.
//
// Every targetRef accepts a user id or a username.
type SocialGraphService interface {
	Follow(ctx context.Context, actorID, targetRef string) (*domain.Profile, error)
	Unfollow(ctx context.Context, actorID, targetRef string) error
	Block(ctx context.Context, actorID, targetRef string) error
	Unblock(ctx context.Context, actorID, targetRef string) error

	IsFollowing(ctx context.Context, actorID, targetRef string) (bool, error)
	IsBlocked(ctx context.Context, actorID, targetRef string) (bool, error)
	BatchIsFollowing(ctx context.Context, actorRef string, targetIDs []string) (map[string]bool, error)

	GetFollowers(ctx context.Context, userRef string) ([]domain.Profile, error)
	GetFollowing(ctx context.Context, userRef string) ([]domain.Profile, error)
	GetConnections(ctx context.Context, userRef string) ([]domain.Profile, error)
	GetFollowersCount(ctx context.Context, userRef string) (int64, error)
	GetFollowingCount(ctx context.Context, userRef string) (int64, error)

	// RepairCounters restores counters, orphaned ids and edge symmetry.
	RepairCounters(ctx context.Context) (*domain.RepairReport, error)
	// RecountCounters only recomputes counters that disagree with their sets.
	RecountCounters(ctx context.Context) (*domain.RepairReport, error)

	HandleUserEvent(ctx context.Context, event *consumer.UserEvent) error
}
