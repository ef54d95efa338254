package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sdubid/chessbit/internal/auth"
	"github.com/sdubid/chessbit/internal/obslog"
	"github.com/sdubid/chessbit/internal/users"
)

const minPasswordLen = 6

// Issuer signs a bearer token for a user id.
type Issuer interface {
	Issue(userID string) (string, error)
}

// Accounts serves password registration and login under /api/auth/.
type Accounts struct {
	issuer Issuer
	creds  users.CredentialStore
}

func NewAccounts(i Issuer, c users.CredentialStore) *Accounts {
	return &Accounts{issuer: i, creds: c}
}

func (a *Accounts) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", a.register)
	mux.HandleFunc("POST /api/auth/login", a.login)
}

// credentialRequest accepts email as the login name when username is absent.
type credentialRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r credentialRequest) name() string {
	if s := strings.TrimSpace(r.Username); s != "" {
		return s
	}
	return strings.TrimSpace(r.Email)
}

type tokenBody struct {
	Token string `json:"token"`
}

func (a *Accounts) register(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Msg: "Malformed request"})
		return
	}
	if req.name() == "" || len(req.Password) < minPasswordLen {
		writeJSON(w, http.StatusBadRequest, errorBody{Msg: "Username and a password of at least 6 characters are required"})
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		a.fail(w, "auth_hash_error", err)
		return
	}
	userID, err := a.creds.CreatePassword(r.Context(), req.name(), hash)
	switch {
	case errors.Is(err, users.ErrUsernameTaken):
		writeJSON(w, http.StatusBadRequest, errorBody{Msg: "Username already exists"})
		return
	case err != nil:
		a.fail(w, "auth_register_error", err)
		return
	}
	obslog.L().Info("auth_registered", zap.String("user_id", userID))
	a.issue(w, userID)
}

func (a *Accounts) login(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil || req.name() == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Msg: "Malformed request"})
		return
	}
	userID, hash, err := a.creds.Password(r.Context(), req.name())
	if err != nil {
		a.fail(w, "auth_login_error", err)
		return
	}
	if userID == "" || auth.Verify(auth.Password{Username: req.name(), Hash: hash}, req.Password) != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Msg: "Invalid credentials"})
		return
	}
	a.issue(w, userID)
}

func (a *Accounts) issue(w http.ResponseWriter, userID string) {
	tok, err := a.issuer.Issue(userID)
	if err != nil {
		a.fail(w, "auth_issue_error", err)
		return
	}
	writeJSON(w, http.StatusOK, tokenBody{Token: tok})
}

func (a *Accounts) fail(w http.ResponseWriter, event string, err error) {
	obslog.L().Error(event, zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorBody{Msg: "Server error"})
}
