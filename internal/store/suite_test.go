package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iolipix/JuriNapse-sub001/internal/domain"
)

// runStoreSuite exercises the UserStore contract against any backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) UserStore) {
	ctx := context.Background()

	seed := func(t *testing.T, s UserStore, id, username string) {
		t.Helper()
		require.NoError(t, s.Create(ctx, &domain.UserRecord{ID: id, Username: username, FirstName: "F" + id}))
	}

	t.Run("create and load", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "a", "alice")

		rec, err := s.GetByID(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "alice", rec.Username)
		assert.Empty(t, rec.Following)
		assert.Zero(t, rec.FollowingCount)

		byName, err := s.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "a", byName.ID)

		_, err = s.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, ErrUserNotFound)
		_, err = s.GetByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("duplicate username", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "a", "alice")
		err := s.Create(ctx, &domain.UserRecord{ID: "b", Username: "alice"})
		assert.ErrorIs(t, err, ErrUserExists)
	})

	t.Run("add and remove keep counters", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "a", "alice")

		added, err := s.AddMember(ctx, "a", domain.RelationFollowing, "x")
		require.NoError(t, err)
		assert.True(t, added)

		added, err = s.AddMember(ctx, "a", domain.RelationFollowing, "x")
		require.NoError(t, err)
		assert.False(t, added)

		_, err = s.AddMember(ctx, "a", domain.RelationFollowing, "y")
		require.NoError(t, err)
		_, err = s.AddMember(ctx, "a", domain.RelationBlocked, "z")
		require.NoError(t, err)

		rec, err := s.GetByID(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "y"}, rec.Following)
		assert.Equal(t, []string{"z"}, rec.BlockedUsers)
		assert.Equal(t, int64(2), rec.FollowingCount)
		assert.Zero(t, rec.FollowersCount)

		removed, err := s.RemoveMember(ctx, "a", domain.RelationFollowing, "x")
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = s.RemoveMember(ctx, "a", domain.RelationFollowing, "x")
		require.NoError(t, err)
		assert.False(t, removed)

		rec, err = s.GetByID(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"y"}, rec.Following)
		assert.Equal(t, int64(1), rec.FollowingCount)
	})

	t.Run("members on unknown user", func(t *testing.T) {
		s := newStore(t)
		_, err := s.AddMember(ctx, "ghost", domain.RelationFollowers, "a")
		assert.ErrorIs(t, err, ErrUserNotFound)
		_, err = s.RemoveMember(ctx, "ghost", domain.RelationFollowers, "a")
		assert.ErrorIs(t, err, ErrUserNotFound)
		_, err = s.AddMember(ctx, "ghost", domain.Relation("friends"), "a")
		assert.ErrorIs(t, err, ErrInvalidRelation)
	})

	t.Run("profiles and existence", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "a", "alice")
		seed(t, s, "b", "bob")
		seed(t, s, "c", "carol")
		require.NoError(t, s.MarkDeleted(ctx, "c"))

		profiles, err := s.GetProfiles(ctx, []string{"b", "ghost", "a", "c"})
		require.NoError(t, err)
		require.Len(t, profiles, 2)
		assert.Equal(t, "bob", profiles[0].Username)
		assert.Equal(t, "alice", profiles[1].Username)

		existing, err := s.ExistingIDs(ctx, []string{"a", "c", "ghost"})
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"a": true}, existing)
	})

	t.Run("mark deleted", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "a", "alice")
		require.NoError(t, s.MarkDeleted(ctx, "a"))

		_, err := s.GetByID(ctx, "a")
		assert.ErrorIs(t, err, ErrUserNotFound)
		_, err = s.GetByUsername(ctx, "alice")
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.ErrorIs(t, s.MarkDeleted(ctx, "a"), ErrUserNotFound)

		_, err = s.AddMember(ctx, "a", domain.RelationFollowing, "x")
		assert.ErrorIs(t, err, ErrUserNotFound)

		// The username is free again.
		seed(t, s, "a2", "alice")
	})

	t.Run("update profile", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "a", "alice")
		seed(t, s, "b", "bob")

		require.NoError(t, s.UpdateProfile(ctx, &domain.UserRecord{ID: "a", Username: "alicia", Bio: "judge", Hidden: true}))
		rec, err := s.GetByUsername(ctx, "alicia")
		require.NoError(t, err)
		assert.Equal(t, "judge", rec.Bio)
		assert.True(t, rec.Hidden)
		_, err = s.GetByUsername(ctx, "alice")
		assert.ErrorIs(t, err, ErrUserNotFound)

		err = s.UpdateProfile(ctx, &domain.UserRecord{ID: "a", Username: "bob"})
		assert.ErrorIs(t, err, ErrUserExists)
		err = s.UpdateProfile(ctx, &domain.UserRecord{ID: "ghost", Username: "ghost"})
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("recount", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "a", "alice")
		_, err := s.AddMember(ctx, "a", domain.RelationFollowers, "x")
		require.NoError(t, err)
		_, err = s.RemoveMember(ctx, "a", domain.RelationFollowers, "x")
		require.NoError(t, err)
		_, err = s.AddMember(ctx, "a", domain.RelationFollowers, "y")
		require.NoError(t, err)

		require.NoError(t, s.Recount(ctx, "a", "ghost"))
		rec, err := s.GetByID(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.FollowersCount)
		assert.Zero(t, rec.FollowingCount)
	})

	t.Run("scan ids", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"c", "a", "e", "b", "d"} {
			seed(t, s, id, "user-"+id)
		}
		require.NoError(t, s.MarkDeleted(ctx, "d"))

		var all []string
		after := ""
		for {
			page, err := s.ScanIDs(ctx, after, 2)
			require.NoError(t, err)
			all = append(all, page...)
			if len(page) < 2 {
				break
			}
			after = page[len(page)-1]
		}
		assert.Equal(t, []string{"a", "b", "c", "e"}, all)
	})
}
