package domain

import (
	"slices"
	"strings"
	"time"
)

// Relation names one of the three relationship sets on a user record.
type Relation string

const (
	RelationFollowing Relation = "following"
	RelationFollowers Relation = "followers"
	RelationBlocked   Relation = "blocked"
)

// Valid reports whether r is a known relation.
func (r Relation) Valid() bool {
	switch r {
	case RelationFollowing, RelationFollowers, RelationBlocked:
		return true
	}
	return false
}

// Counted reports whether the relation has a cached counter.
func (r Relation) Counted() bool {
	return r == RelationFollowing || r == RelationFollowers
}

// UserRecord is a user together with its relationship sets and cached
// counters. Sets are in insertion order and never contain duplicates.
type UserRecord struct {
	ID           string
	Username     string
	FirstName    string
	LastName     string
	AvatarRef    string
	Bio          string
	Organization string

	Following    []string
	Followers    []string
	BlockedUsers []string

	FollowingCount int64
	FollowersCount int64

	Hidden bool
}

// Set returns the members of the given relation.
func (u *UserRecord) Set(rel Relation) []string {
	switch rel {
	case RelationFollowing:
		return u.Following
	case RelationFollowers:
		return u.Followers
	case RelationBlocked:
		return u.BlockedUsers
	}
	return nil
}

func (u *UserRecord) IsFollowing(id string) bool  { return slices.Contains(u.Following, id) }
func (u *UserRecord) IsFollowedBy(id string) bool { return slices.Contains(u.Followers, id) }
func (u *UserRecord) HasBlocked(id string) bool   { return slices.Contains(u.BlockedUsers, id) }

// CountersMatch reports whether both counters equal their set sizes.
func (u *UserRecord) CountersMatch() bool {
	return u.FollowingCount == int64(len(u.Following)) &&
		u.FollowersCount == int64(len(u.Followers))
}

// DisplayName is "First Last", falling back to the username.
func (u *UserRecord) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// Profile returns the public projection of the record.
func (u *UserRecord) Profile() Profile {
	return Profile{
		ID:           u.ID,
		Username:     u.Username,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		AvatarRef:    u.AvatarRef,
		Bio:          u.Bio,
		Organization: u.Organization,
	}
}

// Profile is the public projection of a user shown in lists and results.
type Profile struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	AvatarRef    string `json:"-"`
	AvatarURL    string `json:"avatar_url,omitempty"`
	Bio          string `json:"bio,omitempty"`
	Organization string `json:"organization,omitempty"`
}

// RepairMode distinguishes the full repair from the counter-only recount.
type RepairMode string

const (
	RepairModeFull    RepairMode = "full"
	RepairModeRecount RepairMode = "recount"
)

// RepairReport summarises one repair pass.
type RepairReport struct {
	Mode                  RepairMode `json:"mode"`
	UsersScanned          int        `json:"users_scanned"`
	IncorrectCounters     int        `json:"incorrect_counters"`
	UsersCorrected        int        `json:"users_corrected"`
	UsersWithOrphans      int        `json:"users_with_orphans"`
	OrphansRemoved        int        `json:"orphans_removed"`
	SelfReferencesRemoved int        `json:"self_references_removed"`
	AsymmetricEdgesFixed  int        `json:"asymmetric_edges_fixed"`
	StartedAt             time.Time  `json:"started_at"`
	FinishedAt            time.Time  `json:"finished_at"`
}
