package service

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/iolipix/JuriNapse-sub001/internal/audit"
	"github.com/iolipix/JuriNapse-sub001/internal/domain"
	"github.com/iolipix/JuriNapse-sub001/internal/store"
	pkglog "github.com/iolipix/JuriNapse-sub001/pkg/log"
)

const (
	repairKey  = "repair"
	recountKey = "recount"
)

// RepairCounters walks every live user and:
//   - removes the user's own id from its sets
//   - removes ids of missing or deleted users from every set
//   - restores symmetry of half-written follow edges, treating following
//     as authoritative unless a block separates the pair
//   - recounts users whose counters or sets changed
//
// Concurrent calls share one run. The run is detached from the caller's
// cancellation so a disconnected client does not abort it halfway.
func (s *socialGraphService) RepairCounters(ctx context.Context) (*domain.RepairReport, error) {
	return s.coalesce(ctx, repairKey, s.repair)
}

// RecountCounters only recomputes counters that disagree with their sets.
func (s *socialGraphService) RecountCounters(ctx context.Context) (*domain.RepairReport, error) {
	return s.coalesce(ctx, recountKey, s.recount)
}

func (s *socialGraphService) coalesce(ctx context.Context, key string, run func(context.Context) (*domain.RepairReport, error)) (*domain.RepairReport, error) {
	ch := s.repairs.DoChan(key, func() (interface{}, error) {
		return run(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		report := *res.Val.(*domain.RepairReport)
		return &report, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// scan calls fn with successive pages of live user ids.
func (s *socialGraphService) scan(ctx context.Context, fn func(ids []string) error) error {
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := s.store.ScanIDs(ctx, after, s.opts.RepairBatchSize)
		if err != nil {
			return storeFailure("scan users", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := fn(ids); err != nil {
			return err
		}
		if len(ids) < s.opts.RepairBatchSize {
			return nil
		}
		after = ids[len(ids)-1]
	}
}

func (s *socialGraphService) repair(ctx context.Context) (*domain.RepairReport, error) {
	l := pkglog.Ctx(ctx)
	report := &domain.RepairReport{Mode: domain.RepairModeFull, StartedAt: time.Now().UTC()}
	corrected := make(map[string]struct{})

	err := s.scan(ctx, func(ids []string) error {
		for _, id := range ids {
			if err := s.repairUser(ctx, id, report, corrected); err != nil {
				return err
			}
		}
		return nil
	})
	report.UsersCorrected = len(corrected)
	report.FinishedAt = time.Now().UTC()
	if err != nil {
		l.Error().Err(err).Int("users_scanned", report.UsersScanned).Msg("repair aborted")
		return nil, err
	}

	audit.LogFields(ctx, audit.ActionRepair, "", reportFields(report), "graph repair finished")
	return report, nil
}

// repairUser repairs one record. Every user whose sets or counters change,
// rec itself or a neighbour touched while restoring symmetry, lands in
// corrected.
func (s *socialGraphService) repairUser(ctx context.Context, id string, report *domain.RepairReport, corrected map[string]struct{}) error {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil
		}
		return storeFailure("load user", err)
	}
	report.UsersScanned++

	staleCounters := !rec.CountersMatch()
	if staleCounters {
		report.IncorrectCounters++
	}

	selfRefs := 0
	for _, rel := range allRelations {
		if !slices.Contains(rec.Set(rel), rec.ID) {
			continue
		}
		removed, err := s.store.RemoveMember(ctx, rec.ID, rel, rec.ID)
		if err != nil {
			return storeFailure("remove self reference", err)
		}
		if removed {
			selfRefs++
		}
	}
	report.SelfReferencesRemoved += selfRefs

	referenced := make([]string, 0, len(rec.Following)+len(rec.Followers)+len(rec.BlockedUsers))
	for _, rel := range allRelations {
		referenced = append(referenced, rec.Set(rel)...)
	}
	existing, err := s.store.ExistingIDs(ctx, referenced)
	if err != nil {
		return storeFailure("check ids", err)
	}

	orphans := 0
	for _, rel := range allRelations {
		for _, member := range rec.Set(rel) {
			if member == rec.ID || existing[member] {
				continue
			}
			removed, err := s.store.RemoveMember(ctx, rec.ID, rel, member)
			if err != nil {
				return storeFailure("remove orphan", err)
			}
			if removed {
				orphans++
			}
		}
	}
	if orphans > 0 {
		report.UsersWithOrphans++
		report.OrphansRemoved += orphans
	}

	fixed, touched, err := s.restoreSymmetry(ctx, rec, existing)
	if err != nil {
		return err
	}
	report.AsymmetricEdgesFixed += fixed
	for _, n := range touched {
		corrected[n] = struct{}{}
	}

	if staleCounters || selfRefs > 0 || orphans > 0 {
		corrected[rec.ID] = struct{}{}
	}
	if staleCounters || selfRefs > 0 || orphans > 0 || fixed > 0 {
		if err := s.store.Recount(ctx, rec.ID); err != nil {
			return storeFailure("recount", err)
		}
	}
	return nil
}

var allRelations = []domain.Relation{
	domain.RelationFollowing,
	domain.RelationFollowers,
	domain.RelationBlocked,
}

// restoreSymmetry checks every live neighbour of rec. A following edge
// without its mirror gets the mirror, a followers entry without its
// following edge is dropped, and any edge across a block is severed.
// Returns the number of edges changed and the users whose sets changed.
func (s *socialGraphService) restoreSymmetry(ctx context.Context, rec *domain.UserRecord, existing map[string]bool) (int, []string, error) {
	neighbours := make(map[string]*domain.UserRecord)
	load := func(id string) (*domain.UserRecord, error) {
		if n, ok := neighbours[id]; ok {
			return n, nil
		}
		n, err := s.store.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				return nil, nil
			}
			return nil, storeFailure("load neighbour", err)
		}
		neighbours[id] = n
		return n, nil
	}

	fixed := 0
	var touched []string
	remove := func(user string, rel domain.Relation, member string) error {
		removed, err := s.store.RemoveMember(ctx, user, rel, member)
		if err != nil {
			return storeFailure("remove edge", err)
		}
		if removed {
			fixed++
			touched = append(touched, user)
		}
		return nil
	}

	for _, other := range rec.Following {
		if other == rec.ID || !existing[other] {
			continue
		}
		n, err := load(other)
		if err != nil {
			return fixed, touched, err
		}
		if n == nil {
			continue
		}

		if rec.HasBlocked(other) || n.HasBlocked(rec.ID) {
			if err := remove(rec.ID, domain.RelationFollowing, other); err != nil {
				return fixed, touched, err
			}
			if err := remove(other, domain.RelationFollowers, rec.ID); err != nil {
				return fixed, touched, err
			}
			continue
		}

		if !n.IsFollowedBy(rec.ID) {
			added, err := s.store.AddMember(ctx, other, domain.RelationFollowers, rec.ID)
			if err != nil {
				return fixed, touched, storeFailure("restore follower", err)
			}
			if added {
				fixed++
				touched = append(touched, other)
			}
		}
	}

	for _, other := range rec.Followers {
		if other == rec.ID || !existing[other] {
			continue
		}
		n, err := load(other)
		if err != nil {
			return fixed, touched, err
		}
		if n == nil {
			continue
		}

		blocked := rec.HasBlocked(other) || n.HasBlocked(rec.ID)
		if blocked || !n.IsFollowing(rec.ID) {
			if err := remove(rec.ID, domain.RelationFollowers, other); err != nil {
				return fixed, touched, err
			}
		}
		if blocked {
			if err := remove(other, domain.RelationFollowing, rec.ID); err != nil {
				return fixed, touched, err
			}
		}
	}

	return fixed, touched, nil
}

func (s *socialGraphService) recount(ctx context.Context) (*domain.RepairReport, error) {
	l := pkglog.Ctx(ctx)
	report := &domain.RepairReport{Mode: domain.RepairModeRecount, StartedAt: time.Now().UTC()}

	err := s.scan(ctx, func(ids []string) error {
		var stale []string
		for _, id := range ids {
			rec, err := s.store.GetByID(ctx, id)
			if err != nil {
				if errors.Is(err, store.ErrUserNotFound) {
					continue
				}
				return storeFailure("load user", err)
			}
			report.UsersScanned++
			if !rec.CountersMatch() {
				stale = append(stale, id)
			}
		}
		if len(stale) == 0 {
			return nil
		}
		report.IncorrectCounters += len(stale)
		if err := s.store.Recount(ctx, stale...); err != nil {
			return storeFailure("recount", err)
		}
		report.UsersCorrected += len(stale)
		return nil
	})
	report.FinishedAt = time.Now().UTC()
	if err != nil {
		l.Error().Err(err).Int("users_scanned", report.UsersScanned).Msg("recount aborted")
		return nil, err
	}

	audit.LogFields(ctx, audit.ActionRecount, "", reportFields(report), "counter recount finished")
	return report, nil
}

func reportFields(r *domain.RepairReport) map[string]interface{} {
	return map[string]interface{}{
		"mode":                    r.Mode,
		"users_scanned":           r.UsersScanned,
		"incorrect_counters":      r.IncorrectCounters,
		"users_corrected":         r.UsersCorrected,
		"users_with_orphans":      r.UsersWithOrphans,
		"orphans_removed":         r.OrphansRemoved,
		"self_references_removed": r.SelfReferencesRemoved,
		"asymmetric_edges_fixed":  r.AsymmetricEdgesFixed,
		"duration_ms":             r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}
}
