package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/iolipix/JuriNapse-sub001/internal/domain"
	"github.com/iolipix/JuriNapse-sub001/internal/notify"
	"github.com/iolipix/JuriNapse-sub001/internal/store"
	"github.com/iolipix/JuriNapse-sub001/pkg/database"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []*notify.Notification
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, n *notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// failingStore injects errors into selected writes.
type failingStore struct {
	store.UserStore
	failAdd    domain.Relation
	failRemove domain.Relation
}

var errInjected = errors.New("injected failure")

func (f *failingStore) AddMember(ctx context.Context, userID string, rel domain.Relation, memberID string) (bool, error) {
	if rel == f.failAdd {
		return false, errInjected
	}
	return f.UserStore.AddMember(ctx, userID, rel, memberID)
}

func (f *failingStore) RemoveMember(ctx context.Context, userID string, rel domain.Relation, memberID string) (bool, error) {
	if rel == f.failRemove {
		return false, errInjected
	}
	return f.UserStore.RemoveMember(ctx, userID, rel, memberID)
}

type testEnv struct {
	db       *gorm.DB
	store    *store.GormUserStore
	notifier *fakeNotifier
	svc      SocialGraphService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	st := store.NewGormUserStore(db)
	require.NoError(t, st.Migrate(context.Background()))

	n := &fakeNotifier{}
	return &testEnv{
		db:       db,
		store:    st,
		notifier: n,
		svc:      NewSocialGraphService(st, n, nil, Options{RepairBatchSize: 2}),
	}
}

func (e *testEnv) seed(t *testing.T, usernames ...string) {
	t.Helper()
	for _, name := range usernames {
		require.NoError(t, e.store.Create(context.Background(), &domain.UserRecord{
			ID:        "id-" + name,
			Username:  name,
			FirstName: name,
		}))
	}
}

func (e *testEnv) record(t *testing.T, username string) *domain.UserRecord {
	t.Helper()
	rec, err := e.store.GetByID(context.Background(), "id-"+username)
	require.NoError(t, err)
	return rec
}

func (e *testEnv) setCounters(t *testing.T, username string, following, followers int64) {
	t.Helper()
	require.NoError(t, e.db.Model(&domain.UserModel{}).Where("id = ?", "id-"+username).
		UpdateColumns(map[string]interface{}{
			"following_count": following,
			"followers_count": followers,
		}).Error)
}

// rawRelation writes a relation row without touching counters.
func (e *testEnv) rawRelation(t *testing.T, userID string, rel domain.Relation, memberID string) {
	t.Helper()
	require.NoError(t, e.db.Create(&domain.RelationModel{
		UserID:   userID,
		Kind:     string(rel),
		MemberID: memberID,
	}).Error)
}

func ids(profiles []domain.Profile) []string {
	out := make([]string, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p.ID)
	}
	return out
}
