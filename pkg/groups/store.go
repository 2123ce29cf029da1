package groups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/gatherly/gatherly/pkg/httputil"
	"github.com/gatherly/gatherly/pkg/storage/postgres"
)

const groupColumns = `g.id, g.name, g.description, g.is_private, g.creator_id, g.created_at, g.updated_at,
	(SELECT COUNT(*) FROM group_members gm WHERE gm.group_id = g.id) AS member_count,
	(SELECT COUNT(*) FROM group_members gm WHERE gm.group_id = g.id AND gm.is_admin) AS admin_count`

// Store persists groups and memberships.
type Store struct {
	db *sql.DB
}

// NewStore builds a Store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts the group and its creator membership in one
// transaction.
func (s *Store) Create(ctx context.Context, g *Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO groups (name, description, is_private, creator_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		g.Name, g.Description, g.IsPrivate, g.CreatorID).
		Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	if postgres.IsUniqueViolation(err) {
		return httputil.Conflict("group %q already exists", g.Name)
	}
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, is_admin)
		VALUES ($1, $2, TRUE)`, g.ID, g.CreatorID)
	if err != nil {
		return fmt.Errorf("insert creator membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	g.MemberCount = 1
	g.AdminCount = 1
	return nil
}

func scanGroup(row interface{ Scan(...interface{}) error }) (*Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.IsPrivate, &g.CreatorID,
		&g.CreatedAt, &g.UpdatedAt, &g.MemberCount, &g.AdminCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httputil.NotFound("group not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan group: %w", err)
	}
	return &g, nil
}

// Get fetches a group with member counts.
func (s *Store) Get(ctx context.Context, id int64) (*Group, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+groupColumns+" FROM groups g WHERE g.id = $1", id)
	return scanGroup(row)
}

// ListScope restricts the listing to a slice of the viewer's groups.
type ListScope string

// List scopes. The default shows public groups plus private groups the
// viewer belongs to.
const (
	ScopeDefault ListScope = ""
	ScopeMine    ListScope = "mine"
	ScopeAdmin   ListScope = "admin"
	ScopeCreated ListScope = "created"
)

// ListFilter narrows List. ViewerID is always required: it decides
// which private groups are visible.
type ListFilter struct {
	Search   string
	ViewerID int64
	Scope    ListScope
	Limit    int
	Offset   int
}

// List returns groups matching the filter, newest first, with total.
// Private groups never appear to non-members.
func (s *Store) List(ctx context.Context, f ListFilter) ([]Group, int, error) {
	conds := []string{}
	args := []interface{}{}
	if f.Search != "" {
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
		conds = append(conds, fmt.Sprintf("(lower(g.name) LIKE $%d OR lower(g.description) LIKE $%d)", len(args), len(args)))
	}

	membership := func(extra string) string {
		args = append(args, f.ViewerID)
		return fmt.Sprintf("EXISTS (SELECT 1 FROM group_members gm WHERE gm.group_id = g.id AND gm.user_id = $%d%s)", len(args), extra)
	}
	switch f.Scope {
	case ScopeMine:
		conds = append(conds, membership(""))
	case ScopeAdmin:
		conds = append(conds, membership(" AND gm.is_admin"))
	case ScopeCreated:
		args = append(args, f.ViewerID)
		conds = append(conds, fmt.Sprintf("g.creator_id = $%d", len(args)))
	default:
		conds = append(conds, "(NOT g.is_private OR "+membership("")+")")
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM groups g"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count groups: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf("SELECT %s FROM groups g%s ORDER BY g.created_at DESC, g.id DESC LIMIT $%d OFFSET $%d",
		groupColumns, where, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	list := []Group{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *g)
	}
	return list, total, rows.Err()
}

// GroupUpdate carries sparse group changes.
type GroupUpdate struct {
	Name        *string
	Description *string
	IsPrivate   *bool
}

// Update applies a sparse update.
func (s *Store) Update(ctx context.Context, id int64, upd GroupUpdate) error {
	sets := []string{}
	args := []interface{}{id}
	set := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.Name != nil {
		set("name", *upd.Name)
	}
	if upd.Description != nil {
		set("description", *upd.Description)
	}
	if upd.IsPrivate != nil {
		set("is_private", *upd.IsPrivate)
	}
	if len(sets) == 0 {
		return httputil.BadRequest("no fields to update")
	}
	sets = append(sets, "updated_at = now()")

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE groups SET %s WHERE id = $1", strings.Join(sets, ", ")), args...)
	if postgres.IsUniqueViolation(err) {
		return httputil.Conflict("group name already taken")
	}
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return httputil.NotFound("group not found")
	}
	return nil
}

// Delete removes the group; memberships cascade.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM groups WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return httputil.NotFound("group not found")
	}
	return nil
}

// Membership returns (isMember, isAdmin) for a user.
func (s *Store) Membership(ctx context.Context, groupID, userID int64) (bool, bool, error) {
	var isAdmin bool
	err := s.db.QueryRowContext(ctx,
		"SELECT is_admin FROM group_members WHERE group_id = $1 AND user_id = $2",
		groupID, userID).Scan(&isAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("query membership: %w", err)
	}
	return true, isAdmin, nil
}

// AddMember inserts a membership. Returns false when the user was
// already a member.
func (s *Store) AddMember(ctx context.Context, groupID, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, groupID, userID)
	if err != nil {
		return false, fmt.Errorf("insert membership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// RemoveMember deletes a membership, admin or not.
func (s *Store) RemoveMember(ctx context.Context, groupID, userID int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM group_members WHERE group_id = $1 AND user_id = $2", groupID, userID)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return httputil.NotFound("user is not a member of this group")
	}
	return nil
}

// SetAdmin flips the admin flag on an existing membership.
func (s *Store) SetAdmin(ctx context.Context, groupID, userID int64, admin bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE group_members SET is_admin = $3 WHERE group_id = $1 AND user_id = $2",
		groupID, userID, admin)
	if err != nil {
		return fmt.Errorf("set admin: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return httputil.NotFound("user is not a member of this group")
	}
	return nil
}

// MemberFilter narrows Members.
type MemberFilter struct {
	AdminsOnly bool
	Limit      int
	Offset     int
}

// Members returns a page of members with their user details, creator
// first, then admins, then by join time.
func (s *Store) Members(ctx context.Context, groupID, creatorID int64, f MemberFilter) ([]Member, int, error) {
	where := "WHERE gm.group_id = $1"
	args := []interface{}{groupID}
	if f.AdminsOnly {
		where += " AND gm.is_admin"
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM group_members gm "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count members: %w", err)
	}

	args = append(args, creatorID, f.Limit, f.Offset)
	query := fmt.Sprintf(`
		SELECT u.id, u.username, u.full_name, u.avatar_url, gm.is_admin, gm.joined_at
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		%s
		ORDER BY (gm.user_id = $2) DESC, gm.is_admin DESC, gm.joined_at, u.id
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.Username, &m.FullName, &m.AvatarURL, &m.IsAdmin, &m.JoinedAt); err != nil {
			return nil, 0, fmt.Errorf("scan member: %w", err)
		}
		m.IsCreator = m.UserID == creatorID
		members = append(members, m)
	}
	return members, total, rows.Err()
}

// MembershipSummary is one of a user's memberships, used by profile
// views and the account data export.
type MembershipSummary struct {
	GroupID   int64     `json:"groupId"`
	Name      string    `json:"name"`
	IsPrivate bool      `json:"isPrivate"`
	IsAdmin   bool      `json:"isAdmin"`
	IsCreator bool      `json:"isCreator"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// MembershipsForUser returns every group the user belongs to, oldest
// first.
func (s *Store) MembershipsForUser(ctx context.Context, userID int64) ([]MembershipSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.is_private, gm.is_admin, g.creator_id = gm.user_id, gm.joined_at
		FROM group_members gm
		JOIN groups g ON g.id = gm.group_id
		WHERE gm.user_id = $1
		ORDER BY gm.joined_at, g.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()

	list := []MembershipSummary{}
	for rows.Next() {
		var m MembershipSummary
		if err := rows.Scan(&m.GroupID, &m.Name, &m.IsPrivate, &m.IsAdmin, &m.IsCreator, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// UsersExist returns which of the given user ids exist.
func (s *Store) UsersExist(ctx context.Context, ids []int64) (map[int64]bool, error) {
	exists := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return exists, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM users WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		exists[id] = true
	}
	return exists, rows.Err()
}

// Count returns the number of groups, for gauges.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM groups").Scan(&n); err != nil {
		return 0, fmt.Errorf("count groups: %w", err)
	}
	return n, nil
}
