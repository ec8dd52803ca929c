package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, subject string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestSignInStoresIdentity(t *testing.T) {
	token := signedToken(t, "u-42")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sign-in" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var creds credentialsBody
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Errorf("decode credentials: %v", err)
		}
		if creds.Handle != "alice" || creds.Password != "hunter2" {
			t.Errorf("wrong credentials: %+v", creds)
		}
		_ = json.NewEncoder(w).Encode(tokenBody{Token: token})
	}))
	defer srv.Close()

	s := NewAuthSession(srv.URL)
	if err := s.SignIn(context.Background(), "alice", "hunter2"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if got := s.UserID(); got != "u-42" {
		t.Errorf("UserID = %q, want u-42", got)
	}
	if s.Token() != token {
		t.Error("token not stored")
	}
}

func TestSignInRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewAuthSession(srv.URL)
	if err := s.SignIn(context.Background(), "alice", "wrong"); err == nil {
		t.Fatal("expected error")
	}
	if s.UserID() != "" {
		t.Error("identity set after failed sign-in")
	}
}

func TestSignInMissingSubject(t *testing.T) {
	token := signedToken(t, "")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tokenBody{Token: token})
	}))
	defer srv.Close()

	s := NewAuthSession(srv.URL)
	if err := s.SignIn(context.Background(), "alice", "hunter2"); err == nil {
		t.Fatal("expected error for token without subject")
	}
}

func TestSignOutClearsIdentity(t *testing.T) {
	token := signedToken(t, "u-42")
	var sawSignOut bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sign-in":
			_ = json.NewEncoder(w).Encode(tokenBody{Token: token})
		case "/sign-out":
			sawSignOut = true
			if got := r.Header.Get("Authorization"); got != "Bearer "+token {
				t.Errorf("authorization header %q", got)
			}
		}
	}))
	defer srv.Close()

	s := NewAuthSession(srv.URL)
	if err := s.SignIn(context.Background(), "alice", "hunter2"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if err := s.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if !sawSignOut {
		t.Error("server never saw sign-out")
	}
	if s.UserID() != "" || s.Token() != "" {
		t.Error("identity not cleared")
	}

	// Signed out twice is a no-op.
	if err := s.SignOut(context.Background()); err != nil {
		t.Fatalf("second SignOut: %v", err)
	}
}
