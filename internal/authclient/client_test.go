package authclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

// unsignedToken builds a syntactically valid JWT with the given claims and
// an empty signature, enough for an unverified parse.
func unsignedToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		return base64.RawURLEncoding.EncodeToString(raw)
	}
	header := map[string]any{"alg": "none", "typ": "JWT"}
	return enc(header) + "." + enc(claims) + "."
}

func TestLoginSuccess(t *testing.T) {
	token := unsignedToken(t, map[string]any{"id": "u1"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body["email"] != "alice@example.com" || body["password"] != "hunter2" {
			t.Errorf("body = %v", body)
		}
		http.SetCookie(w, &http.Cookie{Name: "token", Value: token, HttpOnly: true})
		json.NewEncoder(w).Encode(map[string]any{
			"message": "Login successful",
			"user": map[string]string{
				"_id": "u1", "email": "alice@example.com", "name": "Alice", "avatar": "a.png",
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, zap.NewNop())
	creds, err := c.Login(context.Background(), "alice@example.com", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if creds.Token != token {
		t.Errorf("token = %q, want cookie value", creds.Token)
	}
	if creds.UserID != "u1" || creds.DisplayName != "Alice" || creds.AvatarURL != "a.png" {
		t.Errorf("creds = %+v", creds)
	}
}

func TestLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "Invalid credentials"})
	}))
	defer srv.Close()

	c := New(srv.URL, zap.NewNop())
	_, err := c.Login(context.Background(), "alice@example.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestRegisterExistingUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "User already exists"})
	}))
	defer srv.Close()

	c := New(srv.URL, zap.NewNop())
	_, err := c.Register(context.Background(), "alice@example.com", "pw", "Alice", "")
	if !errors.Is(err, ErrUserExists) {
		t.Errorf("err = %v, want ErrUserExists", err)
	}
}

func TestRegisterFallsBackToLogin(t *testing.T) {
	token := unsignedToken(t, map[string]any{"id": "u2"})
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/api/register":
			json.NewEncoder(w).Encode(map[string]any{
				"message": "Registered successfully",
				"user":    map[string]string{"_id": "u2", "email": "bob@example.com", "name": "Bob"},
			})
		case "/api/login":
			json.NewEncoder(w).Encode(map[string]any{
				"token": token,
				"user":  map[string]string{"_id": "u2", "email": "bob@example.com", "name": "Bob"},
			})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, zap.NewNop())
	creds, err := c.Register(context.Background(), "bob@example.com", "pw", "Bob", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 || paths[0] != "/api/register" || paths[1] != "/api/login" {
		t.Errorf("paths = %v, want register then login", paths)
	}
	if creds.UserID != "u2" || creds.Token != token {
		t.Errorf("creds = %+v", creds)
	}
}

func TestUserIDFromToken(t *testing.T) {
	token := unsignedToken(t, map[string]any{"id": "u7", "exp": time.Now().Add(time.Hour).Unix()})

	id, err := UserIDFromToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if id != "u7" {
		t.Errorf("id = %q, want u7", id)
	}

	if _, err := UserIDFromToken("not-a-token"); err == nil {
		t.Error("malformed token should not parse")
	}
	if _, err := UserIDFromToken(unsignedToken(t, map[string]any{"sub": "x"})); err == nil {
		t.Error("token without id claim should be rejected")
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	token := unsignedToken(t, map[string]any{"id": "u1", "exp": exp.Unix()})

	got, err := TokenExpiry(token)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(exp) {
		t.Errorf("expiry = %v, want %v", got, exp)
	}

	got, err = TokenExpiry(unsignedToken(t, map[string]any{"id": "u1"}))
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Errorf("expiry without exp claim = %v, want zero", got)
	}
}
