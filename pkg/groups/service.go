package groups

import (
	"context"
	"fmt"
	"strings"

	"github.com/gatherly/gatherly/pkg/audit"
	"github.com/gatherly/gatherly/pkg/httputil"
	"github.com/gatherly/gatherly/pkg/observability"
)

// Service implements group operations and their permission rules.
type Service struct {
	store    *Store
	recorder audit.Recorder
	logger   *observability.Logger
}

// NewService builds the group service.
func NewService(store *Store, recorder audit.Recorder, logger *observability.Logger) *Service {
	return &Service{store: store, recorder: recorder, logger: logger}
}

// CreateInput is the group creation payload. Members are added on a
// best-effort basis like a bulk add.
type CreateInput struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	IsPrivate   bool    `json:"isPrivate"`
	Members     []int64 `json:"members"`
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", httputil.BadRequest("group name is required")
	}
	if len(name) < minNameLen || len(name) > maxNameLen {
		return "", httputil.BadRequest("group name must be between %d and %d characters", minNameLen, maxNameLen)
	}
	return name, nil
}

// Create makes a group with the caller as creator, admin, and first
// member, then adds any listed members.
func (s *Service) Create(ctx context.Context, creatorID int64, in CreateInput) (*AddMembersResult, error) {
	name, err := validateName(in.Name)
	if err != nil {
		return nil, err
	}
	description := strings.TrimSpace(in.Description)
	if len(description) > maxDescriptionLen {
		return nil, httputil.BadRequest("description cannot exceed %d characters", maxDescriptionLen)
	}
	if len(in.Members) > MaxMembersPerAdd {
		return nil, httputil.BadRequest("cannot add more than %d members at once", MaxMembersPerAdd)
	}

	group := &Group{
		Name:        name,
		Description: description,
		IsPrivate:   in.IsPrivate,
		CreatorID:   creatorID,
	}
	if err := s.store.Create(ctx, group); err != nil {
		return nil, err
	}
	s.audit(ctx, creatorID, "group.create", groupResource(group.ID), nil)

	result := &AddMembersResult{Group: group}
	if len(in.Members) > 0 {
		added, err := s.addMembers(ctx, group, in.Members)
		if err != nil {
			return nil, err
		}
		result = added
	}
	if fresh, err := s.store.Get(ctx, group.ID); err == nil {
		result.Group = fresh
	}
	return result, nil
}

// Get returns a group, enforcing private-group access.
func (s *Service) Get(ctx context.Context, groupID, viewerID int64) (*Group, error) {
	group, err := s.store.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.IsPrivate {
		isMember, _, err := s.store.Membership(ctx, groupID, viewerID)
		if err != nil {
			return nil, err
		}
		if !isMember {
			return nil, httputil.Forbidden("you don't have access to this private group")
		}
	}
	return group, nil
}

// List returns groups matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Group, int, error) {
	return s.store.List(ctx, f)
}

// UpdateInput carries sparse group changes.
type UpdateInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsPrivate   *bool   `json:"isPrivate"`
}

// Update edits group details. Admins only.
func (s *Service) Update(ctx context.Context, groupID, actorID int64, in UpdateInput) (*Group, error) {
	if err := s.requireAdmin(ctx, groupID, actorID, "only group admins can update group details"); err != nil {
		return nil, err
	}

	upd := GroupUpdate{IsPrivate: in.IsPrivate}
	if in.Name != nil {
		name, err := validateName(*in.Name)
		if err != nil {
			return nil, err
		}
		upd.Name = &name
	}
	if in.Description != nil {
		description := strings.TrimSpace(*in.Description)
		if len(description) > maxDescriptionLen {
			return nil, httputil.BadRequest("description cannot exceed %d characters", maxDescriptionLen)
		}
		upd.Description = &description
	}

	if err := s.store.Update(ctx, groupID, upd); err != nil {
		return nil, err
	}
	s.audit(ctx, actorID, "group.update", groupResource(groupID), nil)
	return s.store.Get(ctx, groupID)
}

// Delete removes a group. Creator only.
func (s *Service) Delete(ctx context.Context, groupID, actorID int64) error {
	group, err := s.store.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if group.CreatorID != actorID {
		return httputil.Forbidden("only the group creator can delete the group")
	}
	if err := s.store.Delete(ctx, groupID); err != nil {
		return err
	}
	s.audit(ctx, actorID, "group.delete", groupResource(groupID), nil)
	return nil
}

// AddMembers bulk-adds users. Admins only. Unknown and duplicate ids
// are reported, not fatal, as long as at least one user is added.
func (s *Service) AddMembers(ctx context.Context, groupID, actorID int64, memberIDs []int64) (*AddMembersResult, error) {
	if len(memberIDs) == 0 {
		return nil, httputil.BadRequest("members array is required")
	}
	if len(memberIDs) > MaxMembersPerAdd {
		return nil, httputil.BadRequest("cannot add more than %d members at once", MaxMembersPerAdd)
	}
	if err := s.requireAdmin(ctx, groupID, actorID, "only group admins can add members"); err != nil {
		return nil, err
	}
	group, err := s.store.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}

	result, err := s.addMembers(ctx, group, memberIDs)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actorID, "group.add_members", groupResource(groupID),
		map[string]interface{}{"added": result.Added, "alreadyMembers": result.AlreadyMembers, "invalid": result.Invalid})
	return result, nil
}

func (s *Service) addMembers(ctx context.Context, group *Group, memberIDs []int64) (*AddMembersResult, error) {
	// Dedupe while preserving order.
	seen := make(map[int64]bool, len(memberIDs))
	unique := make([]int64, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id > 0 && !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	exists, err := s.store.UsersExist(ctx, unique)
	if err != nil {
		return nil, err
	}

	result := &AddMembersResult{Group: group}
	for _, id := range memberIDs {
		if id <= 0 {
			result.Invalid++
			result.InvalidIDs = append(result.InvalidIDs, id)
			continue
		}
		if !seen[id] {
			continue // duplicate already handled
		}
		seen[id] = false
		if !exists[id] {
			result.Invalid++
			result.InvalidIDs = append(result.InvalidIDs, id)
			continue
		}
		added, err := s.store.AddMember(ctx, group.ID, id)
		if err != nil {
			return nil, err
		}
		if added {
			result.Added++
		} else {
			result.AlreadyMembers++
		}
	}

	if result.Added == 0 && result.AlreadyMembers == 0 {
		return nil, httputil.BadRequest("no valid members to add")
	}
	if fresh, err := s.store.Get(ctx, group.ID); err == nil {
		result.Group = fresh
	}
	return result, nil
}

// RemoveMember removes a user. Members may remove themselves; admins
// may remove anyone but the creator.
func (s *Service) RemoveMember(ctx context.Context, groupID, actorID, memberID int64) error {
	group, err := s.store.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if memberID == group.CreatorID {
		return httputil.BadRequest("cannot remove group creator")
	}
	if memberID != actorID {
		if err := s.requireAdmin(ctx, groupID, actorID, "you don't have permission to remove this member"); err != nil {
			return err
		}
	}
	if err := s.store.RemoveMember(ctx, groupID, memberID); err != nil {
		return err
	}
	s.audit(ctx, actorID, "group.remove_member", groupResource(groupID),
		map[string]interface{}{"memberId": memberID})
	return nil
}

// Promote makes a member an admin. Admins only.
func (s *Service) Promote(ctx context.Context, groupID, actorID, memberID int64) error {
	if err := s.requireAdmin(ctx, groupID, actorID, "only admins can promote members"); err != nil {
		return err
	}
	isMember, isAdmin, err := s.store.Membership(ctx, groupID, memberID)
	if err != nil {
		return err
	}
	if !isMember {
		return httputil.NotFound("user is not a member of this group")
	}
	if isAdmin {
		return httputil.BadRequest("user is already an admin")
	}
	if err := s.store.SetAdmin(ctx, groupID, memberID, true); err != nil {
		return err
	}
	s.audit(ctx, actorID, "group.promote", groupResource(groupID),
		map[string]interface{}{"memberId": memberID})
	return nil
}

// Demote strips admin from a member. Creator only, and never the
// creator themselves.
func (s *Service) Demote(ctx context.Context, groupID, actorID, memberID int64) error {
	group, err := s.store.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if group.CreatorID != actorID {
		return httputil.Forbidden("only the group creator can demote admins")
	}
	if memberID == group.CreatorID {
		return httputil.BadRequest("cannot demote group creator")
	}
	isMember, isAdmin, err := s.store.Membership(ctx, groupID, memberID)
	if err != nil {
		return err
	}
	if !isMember || !isAdmin {
		return httputil.BadRequest("user is not an admin")
	}
	if err := s.store.SetAdmin(ctx, groupID, memberID, false); err != nil {
		return err
	}
	s.audit(ctx, actorID, "group.demote", groupResource(groupID),
		map[string]interface{}{"memberId": memberID})
	return nil
}

// Join adds the caller to a public group.
func (s *Service) Join(ctx context.Context, groupID, actorID int64) error {
	group, err := s.store.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if group.IsPrivate {
		return httputil.Forbidden("private groups are invite-only")
	}
	added, err := s.store.AddMember(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if !added {
		return httputil.BadRequest("you are already a member of this group")
	}
	s.audit(ctx, actorID, "group.join", groupResource(groupID), nil)
	return nil
}

// Leave removes the caller from the group. The creator cannot leave.
func (s *Service) Leave(ctx context.Context, groupID, actorID int64) error {
	group, err := s.store.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if group.CreatorID == actorID {
		return httputil.BadRequest("group creator cannot leave, delete the group or transfer ownership first")
	}
	isMember, _, err := s.store.Membership(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if !isMember {
		return httputil.BadRequest("you are not a member of this group")
	}
	if err := s.store.RemoveMember(ctx, groupID, actorID); err != nil {
		return err
	}
	s.audit(ctx, actorID, "group.leave", groupResource(groupID), nil)
	return nil
}

// Members returns a page of members, enforcing private-group access.
func (s *Service) Members(ctx context.Context, groupID, viewerID int64, f MemberFilter) ([]Member, int, error) {
	group, err := s.store.Get(ctx, groupID)
	if err != nil {
		return nil, 0, err
	}
	if group.IsPrivate {
		isMember, _, err := s.store.Membership(ctx, groupID, viewerID)
		if err != nil {
			return nil, 0, err
		}
		if !isMember {
			return nil, 0, httputil.Forbidden("you don't have access to this private group")
		}
	}
	return s.store.Members(ctx, groupID, group.CreatorID, f)
}

func (s *Service) requireAdmin(ctx context.Context, groupID, userID int64, msg string) error {
	isMember, isAdmin, err := s.store.Membership(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !isMember || !isAdmin {
		return httputil.Forbidden("%s", msg)
	}
	return nil
}

func (s *Service) audit(ctx context.Context, actorID int64, action, resource string, detail map[string]interface{}) {
	err := s.recorder.Record(ctx, audit.Event{
		ActorID:  &actorID,
		Action:   action,
		Resource: resource,
		Outcome:  audit.OutcomeSuccess,
		Detail:   detail,
	})
	if err != nil {
		s.logger.WithError(err).WithField("action", action).Warn("audit record failed")
	}
}

func groupResource(id int64) string {
	return fmt.Sprintf("group:%d", id)
}
