package domain

import (
	"time"

	"gorm.io/gorm"
)

// UserModel is the GORM model for the users table. Deleted accounts are
// soft-deleted and never returned by default-scoped queries.
type UserModel struct {
	ID             string         `gorm:"type:varchar(36);primaryKey"`
	Username       string         `gorm:"type:varchar(64);uniqueIndex;not null"`
	FirstName      string         `gorm:"type:varchar(100)"`
	LastName       string         `gorm:"type:varchar(100)"`
	AvatarRef      string         `gorm:"column:avatar_ref;type:varchar(255)"`
	Bio            string         `gorm:"type:text"`
	Organization   string         `gorm:"type:varchar(200)"`
	FollowingCount int64          `gorm:"column:following_count;not null;default:0"`
	FollowersCount int64          `gorm:"column:followers_count;not null;default:0"`
	Hidden         bool           `gorm:"not null;default:false"`
	CreatedAt      time.Time      `gorm:"autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime"`
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

func (UserModel) TableName() string { return "users" }

// RelationModel is one member of one of a user's relationship sets. The
// auto-increment id preserves insertion order within a set.
type RelationModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	UserID    string    `gorm:"column:user_id;type:varchar(36);not null;uniqueIndex:uidx_user_relation,priority:1"`
	Kind      string    `gorm:"column:kind;type:varchar(16);not null;uniqueIndex:uidx_user_relation,priority:2"`
	MemberID  string    `gorm:"column:member_id;type:varchar(36);not null;uniqueIndex:uidx_user_relation,priority:3;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (RelationModel) TableName() string { return "user_relations" }

// ToRecord converts the row into a record without relationship sets.
func (m *UserModel) ToRecord() *UserRecord {
	return &UserRecord{
		ID:             m.ID,
		Username:       m.Username,
		FirstName:      m.FirstName,
		LastName:       m.LastName,
		AvatarRef:      m.AvatarRef,
		Bio:            m.Bio,
		Organization:   m.Organization,
		FollowingCount: m.FollowingCount,
		FollowersCount: m.FollowersCount,
		Hidden:         m.Hidden,
		Following:      []string{},
		Followers:      []string{},
		BlockedUsers:   []string{},
	}
}
