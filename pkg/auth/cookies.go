package auth

import (
	"net/http"
	"time"
)

const (
	// RefreshCookieName holds the refresh token, HttpOnly and scoped to
	// the refresh endpoint so browser JS never sees it.
	RefreshCookieName = "gatherly_refresh"
	refreshCookiePath = "/api/v1/auth/refresh"
)

// SetRefreshCookie writes the refresh token cookie.
func SetRefreshCookie(w http.ResponseWriter, token string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearRefreshCookie expires the refresh token cookie.
func ClearRefreshCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}
