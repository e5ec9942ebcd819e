package store

import (
	"context"
	"errors"

	"github.com/iolipix/JuriNapse-sub001/internal/domain"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user already exists")
	ErrInvalidRelation = errors.New("invalid relation")
)

// UserStore persists user records, their relationship sets and counters.
//
// AddMember and RemoveMember change one set and, for counted relations, the
// matching counter in a single atomic step: either both change or neither
// does. They report whether the set actually changed.
type UserStore interface {
	Create(ctx context.Context, rec *domain.UserRecord) error
	UpdateProfile(ctx context.Context, rec *domain.UserRecord) error
	MarkDeleted(ctx context.Context, id string) error

	// GetByID and GetByUsername return ErrUserNotFound for unknown and
	// deleted users.
	GetByID(ctx context.Context, id string) (*domain.UserRecord, error)
	GetByUsername(ctx context.Context, username string) (*domain.UserRecord, error)

	// GetProfiles returns profiles for ids in input order, skipping unknown
	// and deleted users.
	GetProfiles(ctx context.Context, ids []string) ([]domain.Profile, error)

	// ExistingIDs returns the subset of ids that name live users.
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)

	AddMember(ctx context.Context, userID string, rel domain.Relation, memberID string) (bool, error)
	RemoveMember(ctx context.Context, userID string, rel domain.Relation, memberID string) (bool, error)

	// Recount sets both counters of each user to the size of its sets,
	// atomically per user. Unknown ids are ignored.
	Recount(ctx context.Context, ids ...string) error

	// ScanIDs pages through live user ids in ascending order, starting
	// after afterID ("" for the first page).
	ScanIDs(ctx context.Context, afterID string, limit int) ([]string, error)

	Close() error
}

func validRelation(rel domain.Relation) error {
	if !rel.Valid() {
		return ErrInvalidRelation
	}
	return nil
}
