package authsdk

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"
)

var errNoRefreshToken = errors.New("authsdk: access token expired and no refresh token available")

// Session is an authenticated client. Its methods refresh the access token
// when it is about to expire.
type Session struct {
	client *SDKClient

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// validToken returns the access token, rotating the pair first if needed.
func (s *Session) validToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if time.Now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have refreshed while we waited.
	if time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}
	if s.refreshToken == "" {
		return "", errNoRefreshToken
	}

	out, err := s.client.Refresh(ctx, s.refreshToken)
	if err != nil {
		return "", err
	}
	s.accessToken = out.AccessToken
	s.refreshToken = out.RefreshToken
	s.expiresAt = expiryFromNow(out.ExpiresIn)
	return s.accessToken, nil
}

func (s *Session) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, err := s.validToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.client.doRequest(ctx, method, path, body, token)
}

func (s *Session) Profile(ctx context.Context) (*User, error) {
	resp, err := s.do(ctx, http.MethodGet, "/api/auth/profile", nil)
	if err != nil {
		return nil, err
	}

	var out User
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout ends the server-side session and clears the local tokens.
func (s *Session) Logout(ctx context.Context) error {
	resp, err := s.do(ctx, http.MethodPost, "/api/auth/logout", nil)
	if err != nil {
		return err
	}
	if err := checkStatusNoContent(resp); err != nil {
		return err
	}

	s.mu.Lock()
	s.accessToken, s.refreshToken, s.expiresAt = "", "", time.Time{}
	s.mu.Unlock()
	return nil
}

// CleanupSessions triggers an immediate sweep of stale sessions.
func (s *Session) CleanupSessions(ctx context.Context) (*CleanupResponse, error) {
	resp, err := s.do(ctx, http.MethodPost, "/api/tasks/cleanup/sessions", nil)
	if err != nil {
		return nil, err
	}

	var out CleanupResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Session) TaskStatus(ctx context.Context) (*TaskStatusResponse, error) {
	resp, err := s.do(ctx, http.MethodGet, "/api/tasks/status", nil)
	if err != nil {
		return nil, err
	}

	var out TaskStatusResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRoles requires the admin or sysadmin role.
func (s *Session) ListRoles(ctx context.Context) ([]Role, error) {
	resp, err := s.do(ctx, http.MethodGet, "/api/roles", nil)
	if err != nil {
		return nil, err
	}

	var out RolesResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Roles, nil
}

// SetUserRole requires sysadmin. The target's sessions are revoked.
func (s *Session) SetUserRole(ctx context.Context, userID, role string) (*User, error) {
	resp, err := s.do(ctx, http.MethodPut, "/api/users/"+url.PathEscape(userID)+"/role", SetRoleRequest{Role: role})
	if err != nil {
		return nil, err
	}

	var out User
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeactivateUser requires sysadmin.
func (s *Session) DeactivateUser(ctx context.Context, userID string) (*DeactivateResponse, error) {
	resp, err := s.do(ctx, http.MethodPost, "/api/users/"+url.PathEscape(userID)+"/deactivate", nil)
	if err != nil {
		return nil, err
	}

	var out DeactivateResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
