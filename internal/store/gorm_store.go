package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iolipix/JuriNapse-sub001/internal/domain"
)

// inClauseChunk bounds the number of bind parameters per IN query.
const inClauseChunk = 500

var counterColumns = map[domain.Relation]string{
	domain.RelationFollowing: "following_count",
	domain.RelationFollowers: "followers_count",
}

// GormUserStore implements UserStore on a relational database. Sets live
// in user_relations, counters on the users row.
type GormUserStore struct {
	db *gorm.DB
}

// NewGormUserStore creates a new GORM-backed user store.
func NewGormUserStore(db *gorm.DB) *GormUserStore {
	return &GormUserStore{db: db}
}

// Migrate creates or updates the tables used by the store.
func (s *GormUserStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&domain.UserModel{}, &domain.RelationModel{})
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate")
}

// Create inserts a new user with empty sets. An empty ID gets a UUID.
func (s *GormUserStore) Create(ctx context.Context, rec *domain.UserRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	model := domain.UserModel{
		ID:           rec.ID,
		Username:     rec.Username,
		FirstName:    rec.FirstName,
		LastName:     rec.LastName,
		AvatarRef:    rec.AvatarRef,
		Bio:          rec.Bio,
		Organization: rec.Organization,
		Hidden:       rec.Hidden,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateProfile overwrites the profile fields of a live user.
func (s *GormUserStore) UpdateProfile(ctx context.Context, rec *domain.UserRecord) error {
	result := s.db.WithContext(ctx).Model(&domain.UserModel{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"username":     rec.Username,
			"first_name":   rec.FirstName,
			"last_name":    rec.LastName,
			"avatar_ref":   rec.AvatarRef,
			"bio":          rec.Bio,
			"organization": rec.Organization,
			"hidden":       rec.Hidden,
		})
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return ErrUserExists
		}
		return fmt.Errorf("update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// MarkDeleted soft-deletes the user and frees its username for reuse.
func (s *GormUserStore) MarkDeleted(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model domain.UserModel
		if err := tx.Select("id", "username").First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		tombstone := fmt.Sprintf("deleted_%s", model.ID)
		if err := tx.Model(&domain.UserModel{}).Where("id = ?", id).
			UpdateColumn("username", tombstone).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.UserModel{}, "id = ?", id).Error
	})
}

// GetByID loads a live user with its relationship sets.
func (s *GormUserStore) GetByID(ctx context.Context, id string) (*domain.UserRecord, error) {
	return s.load(ctx, "id = ?", id)
}

// GetByUsername loads a live user by exact username.
func (s *GormUserStore) GetByUsername(ctx context.Context, username string) (*domain.UserRecord, error) {
	return s.load(ctx, "username = ?", username)
}

func (s *GormUserStore) load(ctx context.Context, query string, arg string) (*domain.UserRecord, error) {
	db := s.db.WithContext(ctx)

	var model domain.UserModel
	if err := db.Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	var rels []domain.RelationModel
	if err := db.Where("user_id = ?", model.ID).Order("id").Find(&rels).Error; err != nil {
		return nil, fmt.Errorf("load relations: %w", err)
	}

	rec := model.ToRecord()
	for _, r := range rels {
		switch domain.Relation(r.Kind) {
		case domain.RelationFollowing:
			rec.Following = append(rec.Following, r.MemberID)
		case domain.RelationFollowers:
			rec.Followers = append(rec.Followers, r.MemberID)
		case domain.RelationBlocked:
			rec.BlockedUsers = append(rec.BlockedUsers, r.MemberID)
		}
	}
	return rec, nil
}

// GetProfiles returns profiles for ids in input order.
func (s *GormUserStore) GetProfiles(ctx context.Context, ids []string) ([]domain.Profile, error) {
	byID := make(map[string]domain.Profile, len(ids))
	for _, chunk := range chunks(ids) {
		var models []domain.UserModel
		err := s.db.WithContext(ctx).
			Select("id", "username", "first_name", "last_name", "avatar_ref", "bio", "organization").
			Where("id IN ?", chunk).
			Find(&models).Error
		if err != nil {
			return nil, fmt.Errorf("load profiles: %w", err)
		}
		for i := range models {
			byID[models[i].ID] = models[i].ToRecord().Profile()
		}
	}

	profiles := make([]domain.Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			profiles = append(profiles, p)
		}
	}
	return profiles, nil
}

// ExistingIDs returns the subset of ids that name live users.
func (s *GormUserStore) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	for _, chunk := range chunks(ids) {
		var found []string
		err := s.db.WithContext(ctx).Model(&domain.UserModel{}).
			Where("id IN ?", chunk).
			Pluck("id", &found).Error
		if err != nil {
			return nil, fmt.Errorf("check ids: %w", err)
		}
		for _, id := range found {
			existing[id] = true
		}
	}
	return existing, nil
}

// AddMember inserts memberID into the set and bumps the counter in one
// transaction. An existing member is left untouched.
func (s *GormUserStore) AddMember(ctx context.Context, userID string, rel domain.Relation, memberID string) (bool, error) {
	if err := validRelation(rel); err != nil {
		return false, err
	}

	var added bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureLive(tx, userID); err != nil {
			return err
		}

		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.RelationModel{
			UserID:   userID,
			Kind:     string(rel),
			MemberID: memberID,
		})
		if result.Error != nil {
			return result.Error
		}
		added = result.RowsAffected == 1
		if !added || !rel.Counted() {
			return nil
		}

		col := counterColumns[rel]
		return tx.Model(&domain.UserModel{}).Where("id = ?", userID).
			UpdateColumn(col, gorm.Expr(col+" + ?", 1)).Error
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, err
		}
		return false, fmt.Errorf("add %s member: %w", rel, err)
	}
	return added, nil
}

// RemoveMember deletes memberID from the set and lowers the counter in one
// transaction. Counters never go below zero.
func (s *GormUserStore) RemoveMember(ctx context.Context, userID string, rel domain.Relation, memberID string) (bool, error) {
	if err := validRelation(rel); err != nil {
		return false, err
	}

	var removed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureLive(tx, userID); err != nil {
			return err
		}

		result := tx.Where("user_id = ? AND kind = ? AND member_id = ?", userID, string(rel), memberID).
			Delete(&domain.RelationModel{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected > 0
		if !removed || !rel.Counted() {
			return nil
		}

		col := counterColumns[rel]
		return tx.Model(&domain.UserModel{}).Where("id = ?", userID).
			UpdateColumn(col, gorm.Expr("CASE WHEN "+col+" > 0 THEN "+col+" - 1 ELSE 0 END")).Error
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, err
		}
		return false, fmt.Errorf("remove %s member: %w", rel, err)
	}
	return removed, nil
}

// Recount recomputes both counters from the relation rows.
func (s *GormUserStore) Recount(ctx context.Context, ids ...string) error {
	db := s.db.WithContext(ctx)
	for _, id := range ids {
		following := db.Model(&domain.RelationModel{}).Select("count(*)").
			Where("user_id = ? AND kind = ?", id, string(domain.RelationFollowing))
		followers := db.Model(&domain.RelationModel{}).Select("count(*)").
			Where("user_id = ? AND kind = ?", id, string(domain.RelationFollowers))

		err := db.Model(&domain.UserModel{}).
			Where("id = ?", id).
			UpdateColumns(map[string]interface{}{
				"following_count": gorm.Expr("(?)", following),
				"followers_count": gorm.Expr("(?)", followers),
			}).Error
		if err != nil {
			return fmt.Errorf("recount %s: %w", id, err)
		}
	}
	return nil
}

// ScanIDs pages through live user ids in ascending order.
func (s *GormUserStore) ScanIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&domain.UserModel{}).
		Where("id > ?", afterID).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("scan ids: %w", err)
	}
	return ids, nil
}

// Close releases the connection pool.
func (s *GormUserStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func ensureLive(tx *gorm.DB, userID string) error {
	var count int64
	if err := tx.Model(&domain.UserModel{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}

func chunks(ids []string) [][]string {
	var out [][]string
	for len(ids) > 0 {
		n := min(len(ids), inClauseChunk)
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

// Ensure interface is satisfied at compile time.
var _ UserStore = (*GormUserStore)(nil)
