package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iolipix/JuriNapse-sub001/internal/consumer"
	"github.com/iolipix/JuriNapse-sub001/internal/store"
)

func TestLifecycleRegisterAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	evt := &consumer.UserEvent{Type: consumer.EventUserRegistered, UserID: "u1", Username: "alice", FirstName: "Alice"}
	require.NoError(t, env.svc.HandleUserEvent(ctx, evt))
	// Redelivery is absorbed.
	require.NoError(t, env.svc.HandleUserEvent(ctx, evt))

	rec, err := env.store.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", rec.FirstName)

	require.NoError(t, env.svc.HandleUserEvent(ctx, &consumer.UserEvent{
		Type: consumer.EventUserUpdated, UserID: "u1", Username: "alice", FirstName: "Alice", Organization: "Cour de cassation",
	}))
	rec, err = env.store.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Cour de cassation", rec.Organization)

	assert.NoError(t, env.svc.HandleUserEvent(ctx, &consumer.UserEvent{Type: consumer.EventUserUpdated, UserID: "ghost", Username: "ghost"}))
	assert.NoError(t, env.svc.HandleUserEvent(ctx, &consumer.UserEvent{Type: "user.renamed", UserID: "u1"}))
}

func TestLifecycleDeleteSweepsNeighbours(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice", "bob", "carol")
	ctx := context.Background()

	for _, f := range [][2]string{{"id-alice", "bob"}, {"id-bob", "carol"}, {"id-carol", "bob"}} {
		_, err := env.svc.Follow(ctx, f[0], f[1])
		require.NoError(t, err)
	}

	require.NoError(t, env.svc.HandleUserEvent(ctx, &consumer.UserEvent{Type: consumer.EventUserDeleted, UserID: "id-bob"}))
	require.NoError(t, env.svc.HandleUserEvent(ctx, &consumer.UserEvent{Type: consumer.EventUserDeleted, UserID: "id-bob"}))

	_, err := env.store.GetByID(ctx, "id-bob")
	assert.ErrorIs(t, err, store.ErrUserNotFound)

	alice, carol := env.record(t, "alice"), env.record(t, "carol")
	assert.Empty(t, alice.Following)
	assert.Zero(t, alice.FollowingCount)
	assert.Empty(t, carol.Following)
	assert.Empty(t, carol.Followers)
	assert.True(t, carol.CountersMatch())

	report, err := env.svc.RepairCounters(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.OrphansRemoved)
	assert.Zero(t, report.UsersCorrected)
}
