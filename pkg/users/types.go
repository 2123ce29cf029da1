// Package users implements registration, authentication, and user
// administration.
package users

import (
	"regexp"
	"time"
)

// PrivacySettings controls what other users can see.
type PrivacySettings struct {
	IsProfilePublic             bool `json:"isProfilePublic"`
	ShowEmail                   bool `json:"showEmail"`
	ShowDateOfBirth             bool `json:"showDateOfBirth"`
	AllowMessagesFromNonFriends bool `json:"allowMessagesFromNonFriends"`
	ShowOnlineStatus            bool `json:"showOnlineStatus"`
}

// DefaultPrivacy is applied at registration.
func DefaultPrivacy() PrivacySettings {
	return PrivacySettings{
		IsProfilePublic:  true,
		ShowOnlineStatus: true,
	}
}

// NotificationSettings controls delivery channels and triggers.
type NotificationSettings struct {
	EmailNotifications    bool `json:"emailNotifications"`
	PushNotifications     bool `json:"pushNotifications"`
	SMSNotifications      bool `json:"smsNotifications"`
	NotifyOnNewMessage    bool `json:"notifyOnNewMessage"`
	NotifyOnFriendRequest bool `json:"notifyOnFriendRequest"`
	NotifyOnGroupInvite   bool `json:"notifyOnGroupInvite"`
	NotifyOnMention       bool `json:"notifyOnMention"`
	NotifyOnComment       bool `json:"notifyOnComment"`
}

// DefaultNotifications is applied at registration.
func DefaultNotifications() NotificationSettings {
	return NotificationSettings{
		EmailNotifications:    true,
		PushNotifications:     true,
		NotifyOnNewMessage:    true,
		NotifyOnFriendRequest: true,
		NotifyOnGroupInvite:   true,
		NotifyOnMention:       true,
		NotifyOnComment:       true,
	}
}

// User is the account record. PasswordHash and RefreshTokenID never
// serialize.
type User struct {
	ID                 int64                `json:"id"`
	Username           string               `json:"username"`
	Email              string               `json:"email"`
	PasswordHash       string               `json:"-"`
	FullName           string               `json:"fullName"`
	DateOfBirth        *time.Time           `json:"dateOfBirth,omitempty"`
	Bio                string               `json:"bio"`
	Location           string               `json:"location"`
	Website            string               `json:"website"`
	AvatarURL          string               `json:"avatarUrl"`
	CoverURL           string               `json:"coverUrl"`
	Privacy            PrivacySettings      `json:"privacy"`
	Notifications      NotificationSettings `json:"notifications"`
	RefreshTokenID     string               `json:"-"`
	IdentityProviderID *int64               `json:"identityProviderId,omitempty"`
	IsActive           bool                 `json:"isActive"`
	DeactivatedAt      *time.Time           `json:"deactivatedAt,omitempty"`
	DeactivationReason string               `json:"-"`
	Roles              []string             `json:"roles,omitempty"`
	CreatedAt          time.Time            `json:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)

// ValidUsername reports whether a username is 3-30 characters of
// letters, digits, and underscores.
func ValidUsername(name string) bool {
	return usernameRe.MatchString(name)
}

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail is a light format check; uniqueness is the real gate.
func ValidEmail(email string) bool {
	return emailRe.MatchString(email)
}

// MinPasswordLength applies to registration and password changes.
const MinPasswordLength = 8
