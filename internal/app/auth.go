package app

import (
	"errors"
	"net/http"
	"time"

	"github.com/forgeutils/chanterelle/internal/store"
	"github.com/golang-jwt/jwt/v5"
)

// SessionCookie is the name of the signed session cookie.
const SessionCookie = "chanterelle_session"

const sessionTTL = 24 * time.Hour

type sessionClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// SignSessionToken mints a signed session token for a user ID using the
// configured session secret.
func (a *App) SignSessionToken(userID string) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
			Issuer:    "chanterelle",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.cfg.Session.Secret))
}

// parseSessionToken validates a session token and returns the user ID.
func (a *App) parseSessionToken(raw string) (string, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.cfg.Session.Secret), nil
	})
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

type createSessionRequest struct {
	GitHubLogin string `json:"github_login" validate:"required"`
}

// createSession issues a session cookie for an existing user. In production
// this sits behind the GitHub OAuth callback; the endpoint itself only turns
// an authenticated identity into a cookie.
func (a *App) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := daoFromContext(r.Context()).GetUserByLogin(r.Context(), req.GitHubLogin)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusUnauthorized, "unknown user")
		return
	case err != nil:
		a.serverError(w, r, err)
		return
	}

	token, err := a.SignSessionToken(user.ID)
	if err != nil {
		a.serverError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cfg.Session.HTTPSOnly,
		Expires:  time.Now().Add(sessionTTL),
	})
	respondJSON(w, http.StatusCreated, map[string]string{"login": user.GitHubLogin})
}

// currentUser returns the authenticated user's profile.
func (a *App) currentUser(w http.ResponseWriter, r *http.Request) {
	user := a.userFromRequest(r)
	if user == nil {
		respondError(w, http.StatusUnauthorized, "not signed in")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"login":        user.GitHubLogin,
		"display_name": user.DisplayName,
	})
}

// userFromRequest resolves the session cookie to a user, or nil when the
// request is unauthenticated or the cookie is invalid.
func (a *App) userFromRequest(r *http.Request) *store.User {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil
	}
	userID, err := a.parseSessionToken(cookie.Value)
	if err != nil {
		a.logger.Debug("rejecting session cookie", "error", err)
		return nil
	}
	user, err := daoFromContext(r.Context()).GetUser(r.Context(), userID)
	if err != nil {
		return nil
	}
	return user
}
