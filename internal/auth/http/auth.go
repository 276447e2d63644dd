package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/sessionauth/internal/auth/service"
	"github.com/aussiebroadwan/sessionauth/pkg/authsdk"
	"github.com/aussiebroadwan/sessionauth/pkg/httpx"
	"github.com/aussiebroadwan/sessionauth/pkg/jwtx"
)

type AuthHandler struct {
	Auth   *service.AuthService
	Users  *service.UserService
	Cookie CookieConfig
	// IP resolves the caller address recorded on sessions.
	IP httpx.KeyExtractor
}

// HandleLogin answers 200 with the user and a fresh token pair, and sets the
// access token cookie.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginRequest
	if apiErr := decodeBody(w, r, &req); apiErr != nil {
		apiErr.WriteError(w)
		return
	}

	res, err := h.Auth.Login(r.Context(), req.Email, req.Password, h.clientInfo(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.setAccessCookie(w, res.Tokens.AccessToken)
	httpx.WriteJSON(w, http.StatusOK, h.authResponse(res))
}

func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RegisterRequest
	if apiErr := decodeBody(w, r, &req); apiErr != nil {
		apiErr.WriteError(w)
		return
	}

	res, err := h.Auth.Register(r.Context(), service.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
	}, h.clientInfo(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.setAccessCookie(w, res.Tokens.AccessToken)
	httpx.WriteJSON(w, http.StatusCreated, h.authResponse(res))
}

// HandleRefresh rotates the pair. The refresh token is only ever read from
// the body, never from a cookie.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if apiErr := decodeBody(w, r, &req); apiErr != nil {
		apiErr.WriteError(w)
		return
	}

	pair, err := h.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.setAccessCookie(w, pair.AccessToken)
	httpx.WriteJSON(w, http.StatusOK, authsdk.RefreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    h.expiresIn(),
	})
}

func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.Auth.Logout(r.Context(), httpx.AccessTokenFromContext(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.Cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.PrincipalFromContext(r.Context())
	if !ok {
		authsdk.ErrUnauthenticated.WriteError(w)
		return
	}

	u, err := h.Users.GetUser(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUser(u))
}

func (h *AuthHandler) authResponse(res service.AuthResult) authsdk.AuthResponse {
	return authsdk.AuthResponse{
		User:   toUser(res.User),
		Tokens: h.tokens(res.Tokens),
	}
}

func (h *AuthHandler) tokens(pair jwtx.TokenPair) authsdk.Tokens {
	return authsdk.Tokens{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        h.expiresIn(),
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

func (h *AuthHandler) expiresIn() int {
	return int(h.Auth.Tokens.AccessTTL() / time.Second)
}

func (h *AuthHandler) setAccessCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.Cookie.Name,
		Value:    token,
		Path:     "/",
		MaxAge:   h.expiresIn(),
		HttpOnly: true,
		Secure:   h.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clientInfo(r *http.Request) service.ClientInfo {
	ip := h.IP
	if ip == nil {
		ip = httpx.IPKeyExtractor
	}
	return service.ClientInfo{
		IPAddress: ip(r),
		UserAgent: r.UserAgent(),
	}
}
