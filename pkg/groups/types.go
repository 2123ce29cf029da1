// Package groups implements group management and membership: creation,
// discovery, member administration, and the admin/creator hierarchy.
package groups

import "time"

// Group is a community of members. The creator is always a member and
// an admin, and cannot be removed, demoted, or made to leave.
type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsPrivate   bool      `json:"isPrivate"`
	CreatorID   int64     `json:"creatorId"`
	MemberCount int       `json:"memberCount"`
	AdminCount  int       `json:"adminCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Member is a user's membership in a group.
type Member struct {
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	FullName  string    `json:"fullName"`
	AvatarURL string    `json:"avatarUrl"`
	IsAdmin   bool      `json:"isAdmin"`
	IsCreator bool      `json:"isCreator"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// AddMembersResult reports the partial-success outcome of a bulk add.
type AddMembersResult struct {
	Group          *Group  `json:"group"`
	Added          int     `json:"added"`
	AlreadyMembers int     `json:"alreadyMembers"`
	Invalid        int     `json:"invalid"`
	InvalidIDs     []int64 `json:"invalidIds,omitempty"`
}

// MaxMembersPerAdd caps how many users one bulk add may name.
const MaxMembersPerAdd = 50

const (
	minNameLen        = 3
	maxNameLen        = 100
	maxDescriptionLen = 500
)
