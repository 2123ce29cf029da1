// Package account implements self-service account settings: profile,
// credentials, privacy, notifications, sessions, and account
// lifecycle.
package account

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/gatherly/pkg/audit"
	"github.com/gatherly/gatherly/pkg/auth"
	"github.com/gatherly/gatherly/pkg/groups"
	"github.com/gatherly/gatherly/pkg/httputil"
	"github.com/gatherly/gatherly/pkg/observability"
	"github.com/gatherly/gatherly/pkg/sessions"
	"github.com/gatherly/gatherly/pkg/users"
)

// GroupDirectory is the slice of the groups store the data export
// needs.
type GroupDirectory interface {
	MembershipsForUser(ctx context.Context, userID int64) ([]groups.MembershipSummary, error)
}

// DeleteConfirmationPhrase must be typed verbatim to delete an
// account.
const DeleteConfirmationPhrase = "DELETE MY ACCOUNT"

// Service implements account settings operations for the
// authenticated user.
type Service struct {
	users    *users.Store
	groups   GroupDirectory
	hasher   *auth.PasswordHasher
	sessions *sessions.Store
	recorder audit.Recorder
	logger   *observability.Logger
}

// NewService builds the account service.
func NewService(userStore *users.Store, groupDir GroupDirectory, hasher *auth.PasswordHasher,
	sessionStore *sessions.Store, recorder audit.Recorder, logger *observability.Logger) *Service {
	return &Service{
		users:    userStore,
		groups:   groupDir,
		hasher:   hasher,
		sessions: sessionStore,
		recorder: recorder,
		logger:   logger,
	}
}

// Get returns the user's full settings view.
func (s *Service) Get(ctx context.Context, userID int64) (*users.User, error) {
	return s.users.GetByID(ctx, userID)
}

// ProfileInput carries sparse profile changes. Absent fields stay
// untouched; empty strings clear optional fields.
type ProfileInput struct {
	FullName    *string `json:"fullName"`
	Username    *string `json:"username"`
	Bio         *string `json:"bio"`
	Location    *string `json:"location"`
	Website     *string `json:"website"`
	DateOfBirth *string `json:"dateOfBirth"`
}

var websiteRe = regexp.MustCompile(`^(https?://)?([\da-z.-]+)\.([a-z.]{2,6})([/\w .-]*)*/?$`)

// UpdateProfile validates and applies a sparse profile update.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, in ProfileInput) (*users.User, error) {
	upd := users.ProfileUpdate{}

	if in.FullName != nil {
		name := strings.TrimSpace(*in.FullName)
		if name == "" {
			return nil, httputil.BadRequest("full name cannot be empty")
		}
		if len(name) < 2 || len(name) > 100 {
			return nil, httputil.BadRequest("full name must be between 2 and 100 characters")
		}
		upd.FullName = &name
	}

	if in.Username != nil {
		username := strings.ToLower(strings.TrimSpace(*in.Username))
		if !users.ValidUsername(username) {
			return nil, httputil.BadRequest("username must be 3-30 characters and contain only letters, numbers, and underscores")
		}
		taken, err := s.users.UsernameTaken(ctx, username, userID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, httputil.Conflict("username is already taken")
		}
		upd.Username = &username
	}

	if in.Bio != nil {
		bio := strings.TrimSpace(*in.Bio)
		if len(bio) > 500 {
			return nil, httputil.BadRequest("bio cannot exceed 500 characters")
		}
		upd.Bio = &bio
	}

	if in.Location != nil {
		location := strings.TrimSpace(*in.Location)
		if len(location) > 100 {
			return nil, httputil.BadRequest("location cannot exceed 100 characters")
		}
		upd.Location = &location
	}

	if in.Website != nil {
		website := strings.TrimSpace(*in.Website)
		if website != "" {
			if !websiteRe.MatchString(website) {
				return nil, httputil.BadRequest("invalid website URL")
			}
			if !strings.HasPrefix(website, "http") {
				website = "https://" + website
			}
		}
		upd.Website = &website
	}

	if in.DateOfBirth != nil {
		raw := strings.TrimSpace(*in.DateOfBirth)
		if raw == "" {
			upd.ClearDOB = true
		} else {
			dob, err := time.Parse("2006-01-02", raw)
			if err != nil {
				return nil, httputil.BadRequest("invalid date of birth, expected YYYY-MM-DD")
			}
			age := time.Since(dob).Hours() / (24 * 365.25)
			if age < 13 {
				return nil, httputil.BadRequest("you must be at least 13 years old")
			}
			if age > 150 {
				return nil, httputil.BadRequest("invalid date of birth")
			}
			upd.DateOfBirth = &dob
		}
	}

	user, err := s.users.UpdateProfile(ctx, userID, upd)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, userID, "account.update_profile", audit.OutcomeSuccess, nil)
	return user, nil
}

// UpdateEmail changes the address after re-verifying the password.
func (s *Service) UpdateEmail(ctx context.Context, userID int64, newEmail, password string) (*users.User, error) {
	newEmail = strings.ToLower(strings.TrimSpace(newEmail))
	if newEmail == "" {
		return nil, httputil.BadRequest("new email is required")
	}
	if password == "" {
		return nil, httputil.BadRequest("password is required to change email")
	}
	if !users.ValidEmail(newEmail) {
		return nil, httputil.BadRequest("invalid email format")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Email == newEmail {
		return nil, httputil.BadRequest("new email is same as current email")
	}
	if err := s.verifyPassword(user, password); err != nil {
		return nil, err
	}

	if err := s.users.UpdateEmail(ctx, userID, newEmail); err != nil {
		return nil, err
	}
	user.Email = newEmail

	s.audit(ctx, userID, "account.update_email", audit.OutcomeSuccess, nil)
	return user, nil
}

// ChangePassword rotates the password and logs the user out of every
// device.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next, confirm string) error {
	if current == "" {
		return httputil.BadRequest("current password is required")
	}
	if next == "" {
		return httputil.BadRequest("new password is required")
	}
	if next != confirm {
		return httputil.BadRequest("new password and confirm password do not match")
	}
	if len(next) < users.MinPasswordLength {
		return httputil.BadRequest("new password must be at least %d characters", users.MinPasswordLength)
	}
	if current == next {
		return httputil.BadRequest("new password must be different from current password")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.verifyPassword(user, current); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	// UpdatePassword also clears the refresh token id.
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeAll(ctx, userID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("failed to revoke sessions after password change")
	}

	s.audit(ctx, userID, "account.change_password", audit.OutcomeSuccess, nil)
	return nil
}

// PrivacyInput updates any subset of privacy flags.
type PrivacyInput struct {
	IsProfilePublic             *bool `json:"isProfilePublic"`
	ShowEmail                   *bool `json:"showEmail"`
	ShowDateOfBirth             *bool `json:"showDateOfBirth"`
	AllowMessagesFromNonFriends *bool `json:"allowMessagesFromNonFriends"`
	ShowOnlineStatus            *bool `json:"showOnlineStatus"`
}

// UpdatePrivacy merges the provided flags into the stored settings.
func (s *Service) UpdatePrivacy(ctx context.Context, userID int64, in PrivacyInput) (*users.PrivacySettings, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	p := user.Privacy
	changed := false
	apply := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
			changed = true
		}
	}
	apply(&p.IsProfilePublic, in.IsProfilePublic)
	apply(&p.ShowEmail, in.ShowEmail)
	apply(&p.ShowDateOfBirth, in.ShowDateOfBirth)
	apply(&p.AllowMessagesFromNonFriends, in.AllowMessagesFromNonFriends)
	apply(&p.ShowOnlineStatus, in.ShowOnlineStatus)

	if !changed {
		return nil, httputil.BadRequest("no privacy settings to update")
	}
	if err := s.users.UpdatePrivacy(ctx, userID, p); err != nil {
		return nil, err
	}
	s.audit(ctx, userID, "account.update_privacy", audit.OutcomeSuccess, nil)
	return &p, nil
}

// NotificationsInput updates any subset of notification flags.
type NotificationsInput struct {
	EmailNotifications    *bool `json:"emailNotifications"`
	PushNotifications     *bool `json:"pushNotifications"`
	SMSNotifications      *bool `json:"smsNotifications"`
	NotifyOnNewMessage    *bool `json:"notifyOnNewMessage"`
	NotifyOnFriendRequest *bool `json:"notifyOnFriendRequest"`
	NotifyOnGroupInvite   *bool `json:"notifyOnGroupInvite"`
	NotifyOnMention       *bool `json:"notifyOnMention"`
	NotifyOnComment       *bool `json:"notifyOnComment"`
}

// UpdateNotifications merges the provided flags into the stored
// settings.
func (s *Service) UpdateNotifications(ctx context.Context, userID int64, in NotificationsInput) (*users.NotificationSettings, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	n := user.Notifications
	changed := false
	apply := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
			changed = true
		}
	}
	apply(&n.EmailNotifications, in.EmailNotifications)
	apply(&n.PushNotifications, in.PushNotifications)
	apply(&n.SMSNotifications, in.SMSNotifications)
	apply(&n.NotifyOnNewMessage, in.NotifyOnNewMessage)
	apply(&n.NotifyOnFriendRequest, in.NotifyOnFriendRequest)
	apply(&n.NotifyOnGroupInvite, in.NotifyOnGroupInvite)
	apply(&n.NotifyOnMention, in.NotifyOnMention)
	apply(&n.NotifyOnComment, in.NotifyOnComment)

	if !changed {
		return nil, httputil.BadRequest("no notification preferences to update")
	}
	if err := s.users.UpdateNotifications(ctx, userID, n); err != nil {
		return nil, err
	}
	s.audit(ctx, userID, "account.update_notifications", audit.OutcomeSuccess, nil)
	return &n, nil
}

// Sessions lists the user's live sessions, flagging the current one.
func (s *Service) Sessions(ctx context.Context, userID int64, currentSessionID string) ([]SessionView, error) {
	list, err := s.sessions.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(list))
	for _, sess := range list {
		views = append(views, SessionView{
			Session:   sess,
			IsCurrent: sess.ID == currentSessionID,
		})
	}
	return views, nil
}

// SessionView is a session annotated with whether it is the caller's.
type SessionView struct {
	sessions.Session
	IsCurrent bool `json:"isCurrent"`
}

// RevokeSession revokes one of the user's other sessions.
func (s *Service) RevokeSession(ctx context.Context, userID int64, sessionID, currentSessionID string) error {
	if sessionID == "" {
		return httputil.BadRequest("session id is required")
	}
	if sessionID == currentSessionID {
		return httputil.BadRequest("cannot revoke current session, log out instead")
	}
	if err := s.sessions.Revoke(ctx, userID, sessionID); err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			return httputil.NotFound("session not found")
		}
		return err
	}
	s.audit(ctx, userID, "account.revoke_session", audit.OutcomeSuccess,
		map[string]interface{}{"sessionId": sessionID})
	return nil
}

// Deactivate disables the account after re-verifying the password.
// The account can be revived by logging in within the reactivation
// window.
func (s *Service) Deactivate(ctx context.Context, userID int64, password, reason string) error {
	if password == "" {
		return httputil.BadRequest("password is required to deactivate account")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.verifyPassword(user, password); err != nil {
		return err
	}

	if err := s.users.Deactivate(ctx, userID, strings.TrimSpace(reason)); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeAll(ctx, userID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("failed to revoke sessions on deactivation")
	}

	s.audit(ctx, userID, "account.deactivate", audit.OutcomeSuccess, nil)
	return nil
}

// Delete permanently removes the account. Requires the password and
// the exact confirmation phrase.
func (s *Service) Delete(ctx context.Context, userID int64, password, confirmation string) error {
	if password == "" {
		return httputil.BadRequest("password is required to delete account")
	}
	if confirmation != DeleteConfirmationPhrase {
		return httputil.BadRequest("please type %q to confirm", DeleteConfirmationPhrase)
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.verifyPassword(user, password); err != nil {
		return err
	}

	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeAll(ctx, userID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("failed to revoke sessions on deletion")
	}

	s.audit(ctx, userID, "account.delete", audit.OutcomeSuccess, nil)
	return nil
}

// RemoveAvatar clears the stored avatar URL.
func (s *Service) RemoveAvatar(ctx context.Context, userID int64) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.AvatarURL == "" {
		return httputil.BadRequest("no avatar to remove")
	}
	if err := s.users.SetAvatar(ctx, userID, ""); err != nil {
		return err
	}
	s.audit(ctx, userID, "account.remove_avatar", audit.OutcomeSuccess, nil)
	return nil
}

// exportAuditLimit caps how much of the audit trail one export carries.
const exportAuditLimit = 1000

// Export bundles the user's stored data for download.
type Export struct {
	ExportID   string                     `json:"exportId"`
	Profile    *users.User                `json:"profile"`
	Groups     []groups.MembershipSummary `json:"groups"`
	Sessions   []sessions.Session         `json:"sessions"`
	AuditTrail []audit.Event              `json:"auditTrail"`
	ExportedAt time.Time                  `json:"exportedAt"`
}

// ExportData returns everything stored about the user: profile, group
// memberships, live sessions, and their recent audit trail.
func (s *Service) ExportData(ctx context.Context, userID int64) (*Export, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	memberships, err := s.groups.MembershipsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	list, err := s.sessions.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	trail, _, err := s.recorder.List(ctx, audit.Filter{ActorID: userID, Limit: exportAuditLimit})
	if err != nil {
		return nil, err
	}

	export := &Export{
		ExportID:   uuid.NewString(),
		Profile:    user,
		Groups:     memberships,
		Sessions:   list,
		AuditTrail: trail,
		ExportedAt: time.Now(),
	}
	s.audit(ctx, userID, "account.export_data", audit.OutcomeSuccess,
		map[string]interface{}{"exportId": export.ExportID})
	return export, nil
}

func (s *Service) verifyPassword(user *users.User, password string) error {
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.audit(context.Background(), user.ID, "account.verify_password", audit.OutcomeFailure, nil)
			return httputil.Unauthorized("incorrect password")
		}
		return err
	}
	return nil
}

func (s *Service) audit(ctx context.Context, userID int64, action string, outcome audit.Outcome, detail map[string]interface{}) {
	err := s.recorder.Record(ctx, audit.Event{
		ActorID:  &userID,
		Action:   action,
		Resource: fmt.Sprintf("user:%d", userID),
		Outcome:  outcome,
		Detail:   detail,
	})
	if err != nil {
		s.logger.WithError(err).WithField("action", action).Warn("audit record failed")
	}
}
