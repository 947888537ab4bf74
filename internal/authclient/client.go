// Package authclient talks to the chat API's HTTP auth endpoints. The
// bearer token it obtains is what the socket transport presents on connect.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pigeon-im/pigeon/internal/session"
	"go.uber.org/zap"
)

var (
	ErrInvalidCredentials = errors.New("authclient: invalid credentials")
	ErrUserExists         = errors.New("authclient: user already exists")
)

const requestTimeout = 15 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func New(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger.Named("auth"),
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type userBody struct {
	ID     string `json:"_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type authResponse struct {
	Message string   `json:"message"`
	Token   string   `json:"token"`
	User    userBody `json:"user"`
	Error   string   `json:"error"`
}

// Login exchanges email/password for a bearer token and profile.
func (c *Client) Login(ctx context.Context, email, password string) (session.Credentials, error) {
	resp, err := c.post(ctx, "/api/login", &loginRequest{Email: email, Password: password})
	if err != nil {
		return session.Credentials{}, err
	}
	c.logger.Info("logged in", zap.String("email", email))
	return c.toCredentials(resp)
}

// Register creates an account and logs straight into it.
func (c *Client) Register(ctx context.Context, email, password, name, avatarURL string) (session.Credentials, error) {
	resp, err := c.post(ctx, "/api/register", &registerRequest{
		Email: email, Password: password, Name: name, AvatarURL: avatarURL,
	})
	if err != nil {
		return session.Credentials{}, err
	}
	if resp.Token == "" {
		// Registration alone does not hand out a token.
		return c.Login(ctx, email, password)
	}
	return c.toCredentials(resp)
}

func (c *Client) post(ctx context.Context, path string, body any) (*authResponse, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("authclient: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("authclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authclient: %s: %w", path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("authclient: read response: %w", err)
	}
	var parsed authResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("authclient: decode response (%d): %w", res.StatusCode, err)
	}

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusNotFound:
		return nil, ErrInvalidCredentials
	case http.StatusBadRequest:
		if strings.Contains(parsed.Error, "exists") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("authclient: %s: %s", path, parsed.Error)
	default:
		return nil, fmt.Errorf("authclient: %s: status %d: %s", path, res.StatusCode, parsed.Error)
	}

	// Some deployments return the token only as a cookie.
	if parsed.Token == "" {
		for _, cookie := range res.Cookies() {
			if cookie.Name == "token" {
				parsed.Token = cookie.Value
				break
			}
		}
	}
	return &parsed, nil
}

func (c *Client) toCredentials(resp *authResponse) (session.Credentials, error) {
	if resp.Token == "" {
		return session.Credentials{}, errors.New("authclient: response carried no token")
	}
	creds := session.Credentials{
		Token:       resp.Token,
		UserID:      resp.User.ID,
		Email:       resp.User.Email,
		DisplayName: resp.User.Name,
		AvatarURL:   resp.User.Avatar,
	}
	if creds.UserID == "" {
		id, err := UserIDFromToken(resp.Token)
		if err != nil {
			return session.Credentials{}, err
		}
		creds.UserID = id
	}
	return creds, nil
}

// UserIDFromToken recovers the user id claim from a bearer token without
// verifying the signature; only the server holds the signing secret.
func UserIDFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("authclient: parse token: %w", err)
	}
	id, _ := claims["id"].(string)
	if id == "" {
		return "", errors.New("authclient: token has no id claim")
	}
	return id, nil
}

// TokenExpiry returns the token's expiry time, or the zero time when the
// token carries no exp claim.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("authclient: parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}
