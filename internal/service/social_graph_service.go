package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/iolipix/JuriNapse-sub001/internal/audit"
	"github.com/iolipix/JuriNapse-sub001/internal/domain"
	"github.com/iolipix/JuriNapse-sub001/internal/notify"
	"github.com/iolipix/JuriNapse-sub001/internal/store"
	pkglog "github.com/iolipix/JuriNapse-sub001/pkg/log"
	"github.com/iolipix/JuriNapse-sub001/pkg/storage"
)

// Options tunes the service. Zero values select defaults.
type Options struct {
	RepairBatchSize int
	AvatarURLTTL    time.Duration
	NotifyTimeout   time.Duration
}

func (o *Options) setDefaults() {
	if o.RepairBatchSize <= 0 {
		o.RepairBatchSize = 200
	}
	if o.AvatarURLTTL <= 0 {
		o.AvatarURLTTL = time.Hour
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = 5 * time.Second
	}
}

// socialGraphService implements SocialGraphService.
type socialGraphService struct {
	store    store.UserStore
	notifier notify.Notifier
	avatars  storage.URLSigner
	opts     Options

	repairs singleflight.Group
}

// NewSocialGraphService creates the service. notifier and avatars may be nil.
func NewSocialGraphService(st store.UserStore, notifier notify.Notifier, avatars storage.URLSigner, opts Options) SocialGraphService {
	opts.setDefaults()
	return &socialGraphService{
		store:    st,
		notifier: notifier,
		avatars:  avatars,
		opts:     opts,
	}
}

func storeFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
}

// resolve loads a live user by id, then by username.
func (s *socialGraphService) resolve(ctx context.Context, ref string) (*domain.UserRecord, error) {
	if ref == "" {
		return nil, ErrNotFound
	}

	rec, err := s.store.GetByID(ctx, ref)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return nil, storeFailure("resolve user", err)
	}

	rec, err = s.store.GetByUsername(ctx, ref)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeFailure("resolve user", err)
	}
	return rec, nil
}

// resolvePair loads actor and target concurrently and rejects self references.
func (s *socialGraphService) resolvePair(ctx context.Context, actorID, targetRef string) (*domain.UserRecord, *domain.UserRecord, error) {
	var actor, target *domain.UserRecord

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		actor, err = s.resolve(gctx, actorID)
		return err
	})
	g.Go(func() error {
		var err error
		target, err = s.resolve(gctx, targetRef)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if actor.ID == target.ID {
		return nil, nil, ErrSelfReference
	}
	return actor, target, nil
}

// Follow makes actorID follow targetRef and returns the target's profile.
func (s *socialGraphService) Follow(ctx context.Context, actorID, targetRef string) (*domain.Profile, error) {
	l := pkglog.Ctx(ctx)

	actor, target, err := s.resolvePair(ctx, actorID, targetRef)
	if err != nil {
		return nil, err
	}
	if target.Hidden {
		return nil, ErrNotFound
	}
	if actor.HasBlocked(target.ID) {
		return nil, ErrBlocked
	}
	if target.HasBlocked(actor.ID) {
		return nil, ErrNotFound
	}
	if actor.IsFollowing(target.ID) {
		return nil, ErrAlreadyExists
	}

	added, err := s.store.AddMember(ctx, actor.ID, domain.RelationFollowing, target.ID)
	if err != nil {
		return nil, storeFailure("add following", err)
	}
	if !added {
		return nil, ErrAlreadyExists
	}

	if _, err := s.store.AddMember(ctx, target.ID, domain.RelationFollowers, actor.ID); err != nil {
		l.Error().Err(err).
			Str(pkglog.FieldUserID, actor.ID).
			Str(pkglog.FieldTargetID, target.ID).
			Msg("follow half-written: followers add failed")
		return nil, storeFailure("add follower", err)
	}

	audit.LogTarget(ctx, audit.ActionFollow, actor.ID, target.ID, "user followed")
	s.dispatchFollow(ctx, actor, target)

	profile := s.project(ctx, target.Profile())
	return &profile, nil
}

// dispatchFollow notifies the target without holding up the caller.
func (s *socialGraphService) dispatchFollow(ctx context.Context, actor, target *domain.UserRecord) {
	if s.notifier == nil {
		return
	}

	n := &notify.Notification{
		RecipientID: target.ID,
		ActorID:     actor.ID,
		Type:        notify.TypeFollow,
		Message:     fmt.Sprintf("%s started following you", actor.DisplayName()),
	}
	l := pkglog.Ctx(ctx)
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.NotifyTimeout)

	go func() {
		defer cancel()
		if err := s.notifier.Notify(nctx, n); err != nil {
			l.Warn().Err(err).Str(pkglog.FieldTargetID, target.ID).Msg("follow notification failed")
		}
	}()
}

// Unfollow removes the follow edge from actorID to targetRef.
func (s *socialGraphService) Unfollow(ctx context.Context, actorID, targetRef string) error {
	l := pkglog.Ctx(ctx)

	actor, target, err := s.resolvePair(ctx, actorID, targetRef)
	if err != nil {
		return err
	}
	if !actor.IsFollowing(target.ID) {
		return ErrNotFollowing
	}

	removed, err := s.store.RemoveMember(ctx, actor.ID, domain.RelationFollowing, target.ID)
	if err != nil {
		return storeFailure("remove following", err)
	}
	if !removed {
		return ErrNotFollowing
	}

	if _, err := s.store.RemoveMember(ctx, target.ID, domain.RelationFollowers, actor.ID); err != nil {
		l.Error().Err(err).
			Str(pkglog.FieldUserID, actor.ID).
			Str(pkglog.FieldTargetID, target.ID).
			Msg("unfollow half-written: followers remove failed")
		return storeFailure("remove follower", err)
	}

	audit.LogTarget(ctx, audit.ActionUnfollow, actor.ID, target.ID, "user unfollowed")
	return nil
}

// Block records the block and severs follow edges in both directions.
func (s *socialGraphService) Block(ctx context.Context, actorID, targetRef string) error {
	actor, target, err := s.resolvePair(ctx, actorID, targetRef)
	if err != nil {
		return err
	}
	if actor.HasBlocked(target.ID) {
		return ErrAlreadyBlocked
	}

	added, err := s.store.AddMember(ctx, actor.ID, domain.RelationBlocked, target.ID)
	if err != nil {
		return storeFailure("add blocked", err)
	}
	if !added {
		return ErrAlreadyBlocked
	}

	if err := s.severEdges(ctx, actor.ID, target.ID); err != nil {
		return err
	}
	if err := s.store.Recount(ctx, actor.ID, target.ID); err != nil {
		return storeFailure("recount", err)
	}

	audit.LogTarget(ctx, audit.ActionBlock, actor.ID, target.ID, "user blocked")
	return nil
}

// severEdges removes every follow edge between a and b, on both records.
func (s *socialGraphService) severEdges(ctx context.Context, a, b string) error {
	removals := []struct {
		user   string
		rel    domain.Relation
		member string
	}{
		{a, domain.RelationFollowing, b},
		{a, domain.RelationFollowers, b},
		{b, domain.RelationFollowing, a},
		{b, domain.RelationFollowers, a},
	}
	for _, r := range removals {
		if _, err := s.store.RemoveMember(ctx, r.user, r.rel, r.member); err != nil {
			return storeFailure("sever "+string(r.rel), err)
		}
	}
	return nil
}

// Unblock lifts a block. Follow edges severed by the block stay removed.
func (s *socialGraphService) Unblock(ctx context.Context, actorID, targetRef string) error {
	actor, target, err := s.resolvePair(ctx, actorID, targetRef)
	if err != nil {
		return err
	}
	if !actor.HasBlocked(target.ID) {
		return ErrNotBlocked
	}

	removed, err := s.store.RemoveMember(ctx, actor.ID, domain.RelationBlocked, target.ID)
	if err != nil {
		return storeFailure("remove blocked", err)
	}
	if !removed {
		return ErrNotBlocked
	}

	audit.LogTarget(ctx, audit.ActionUnblock, actor.ID, target.ID, "user unblocked")
	return nil
}

// IsFollowing reports whether actorID follows targetRef. An unknown target
// is simply not followed.
func (s *socialGraphService) IsFollowing(ctx context.Context, actorID, targetRef string) (bool, error) {
	actor, target, err := s.relationPair(ctx, actorID, targetRef)
	if err != nil || target == nil {
		return false, err
	}
	return actor.IsFollowing(target.ID), nil
}

// IsBlocked reports whether actorID has blocked targetRef.
func (s *socialGraphService) IsBlocked(ctx context.Context, actorID, targetRef string) (bool, error) {
	actor, target, err := s.relationPair(ctx, actorID, targetRef)
	if err != nil || target == nil {
		return false, err
	}
	return actor.HasBlocked(target.ID), nil
}

// relationPair resolves both users for a query. A target that does not
// resolve yields a nil target and no error.
func (s *socialGraphService) relationPair(ctx context.Context, actorID, targetRef string) (*domain.UserRecord, *domain.UserRecord, error) {
	actor, err := s.resolve(ctx, actorID)
	if err != nil {
		return nil, nil, err
	}
	target, err := s.resolve(ctx, targetRef)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return actor, nil, nil
		}
		return nil, nil, err
	}
	return actor, target, nil
}

// BatchIsFollowing checks whether actorRef follows each of targetIDs.
func (s *socialGraphService) BatchIsFollowing(ctx context.Context, actorRef string, targetIDs []string) (map[string]bool, error) {
	actor, err := s.resolve(ctx, actorRef)
	if err != nil {
		return nil, err
	}

	result := make(map[string]bool, len(targetIDs))
	for _, id := range targetIDs {
		result[id] = actor.IsFollowing(id)
	}
	return result, nil
}

// GetFollowers lists the users following userRef, oldest first.
func (s *socialGraphService) GetFollowers(ctx context.Context, userRef string) ([]domain.Profile, error) {
	rec, err := s.resolve(ctx, userRef)
	if err != nil {
		return nil, err
	}
	return s.expand(ctx, rec.Followers)
}

// GetFollowing lists the users userRef follows, oldest first.
func (s *socialGraphService) GetFollowing(ctx context.Context, userRef string) ([]domain.Profile, error) {
	rec, err := s.resolve(ctx, userRef)
	if err != nil {
		return nil, err
	}
	return s.expand(ctx, rec.Following)
}

// GetConnections lists mutual follows in following order.
func (s *socialGraphService) GetConnections(ctx context.Context, userRef string) ([]domain.Profile, error) {
	rec, err := s.resolve(ctx, userRef)
	if err != nil {
		return nil, err
	}

	followers := make(map[string]struct{}, len(rec.Followers))
	for _, id := range rec.Followers {
		followers[id] = struct{}{}
	}
	mutual := make([]string, 0, len(rec.Following))
	for _, id := range rec.Following {
		if _, ok := followers[id]; ok {
			mutual = append(mutual, id)
		}
	}
	return s.expand(ctx, mutual)
}

// GetFollowersCount returns the cached followers counter.
func (s *socialGraphService) GetFollowersCount(ctx context.Context, userRef string) (int64, error) {
	rec, err := s.resolve(ctx, userRef)
	if err != nil {
		return 0, err
	}
	return rec.FollowersCount, nil
}

// GetFollowingCount returns the cached following counter.
func (s *socialGraphService) GetFollowingCount(ctx context.Context, userRef string) (int64, error) {
	rec, err := s.resolve(ctx, userRef)
	if err != nil {
		return 0, err
	}
	return rec.FollowingCount, nil
}

// expand turns ids into profiles, dropping ids that no longer resolve.
func (s *socialGraphService) expand(ctx context.Context, ids []string) ([]domain.Profile, error) {
	if len(ids) == 0 {
		return []domain.Profile{}, nil
	}

	profiles, err := s.store.GetProfiles(ctx, ids)
	if err != nil {
		return nil, storeFailure("load profiles", err)
	}
	for i := range profiles {
		profiles[i] = s.project(ctx, profiles[i])
	}
	return profiles, nil
}

// project fills AvatarURL from AvatarRef when an avatar store is configured.
// Signing failures leave the URL empty.
func (s *socialGraphService) project(ctx context.Context, p domain.Profile) domain.Profile {
	if s.avatars == nil || p.AvatarRef == "" {
		return p
	}
	url, err := s.avatars.GetURL(ctx, p.AvatarRef, s.opts.AvatarURLTTL)
	if err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Str(pkglog.FieldUserID, p.ID).Msg("failed to resolve avatar url")
		return p
	}
	p.AvatarURL = url
	return p
}

// Ensure interface is satisfied at compile time.
var _ SocialGraphService = (*socialGraphService)(nil)
