package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthSession signs in against the HTTP auth endpoint and holds the
// resulting bearer token. The user id is read from the token's subject
// claim; signature verification is the server's job.
type AuthSession struct {
	baseURL string
	client  *http.Client

	mu     sync.Mutex
	token  string
	userID string
}

// NewAuthSession creates a signed-out session for the given auth base
// URL.
func NewAuthSession(baseURL string) *AuthSession {
	return &AuthSession{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type credentialsBody struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

type tokenBody struct {
	Token string `json:"token"`
}

// UserID returns the signed-in user id, or "" when signed out.
func (s *AuthSession) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Token returns the current bearer token, or "" when signed out.
func (s *AuthSession) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *AuthSession) SignIn(ctx context.Context, handle, password string) error {
	return s.authenticate(ctx, "/sign-in", handle, password)
}

func (s *AuthSession) SignUp(ctx context.Context, handle, password string) error {
	return s.authenticate(ctx, "/sign-up", handle, password)
}

func (s *AuthSession) authenticate(ctx context.Context, path, handle, password string) error {
	body, err := json.Marshal(credentialsBody{Handle: handle, Password: password})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("auth request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("auth failed: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var tb tokenBody
	if err := json.NewDecoder(resp.Body).Decode(&tb); err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}
	if tb.Token == "" {
		return fmt.Errorf("auth response missing token")
	}

	userID, err := subjectOf(tb.Token)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.token = tb.Token
	s.userID = userID
	s.mu.Unlock()
	return nil
}

// SignOut best-effort notifies the server, then clears local state
// regardless.
func (s *AuthSession) SignOut(ctx context.Context) error {
	s.mu.Lock()
	token := s.token
	s.token = ""
	s.userID = ""
	s.mu.Unlock()

	if token == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/sign-out", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}

func subjectOf(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token missing subject")
	}
	return claims.Subject, nil
}
