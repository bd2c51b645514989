package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Remote is a Service backed by a deployed identity backend reached over
// HTTP JSON. Requests are authenticated with an OAuth2 client-credentials
// token when a token URL is configured.
type Remote struct {
	baseURL string
	client  *http.Client
}

// RemoteOpts holds parameters for creating a Remote service.
type RemoteOpts struct {
	BaseURL      string
	TokenURL     string // optional; enables client-credentials auth
	ClientID     string
	ClientSecret string
	Scopes       []string
	HTTPClient   *http.Client // base client; defaults to a 15s-timeout client
}

// NewRemote creates a Remote service.
func NewRemote(opts RemoteOpts) (*Remote, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("identity: remote: base url is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("identity: remote: parse base url: %w", err)
	}
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 15 * time.Second}
	}
	client := base
	if opts.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
			Scopes:       opts.Scopes,
		}
		// The oauth2 transport uses the client found in this context for
		// token fetches; requests carry their own context.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = cc.Client(ctx)
		client.Timeout = base.Timeout
	}
	return &Remote{baseURL: strings.TrimRight(opts.BaseURL, "/"), client: client}, nil
}

type linkDTO struct {
	Linked bool     `json:"linked"`
	UserID string   `json:"userId,omitempty"`
	Login  string   `json:"login,omitempty"`
	Roles  []string `json:"roles"`
	Perms  []string `json:"perms"`
}

type tokenDTO struct {
	UserID      string    `json:"userId"`
	Login       string    `json:"login"`
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type credentialsDTO struct {
	ProviderCode   string `json:"providerCode"`
	ExternalUserID string `json:"externalUserId"`
	Login          string `json:"login"`
	Password       string `json:"password"`
}

type errorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Resolve implements Service.
func (r *Remote) Resolve(ctx context.Context, providerCode, externalUserID string) (Link, error) {
	q := url.Values{"providerCode": {providerCode}, "externalUserId": {externalUserID}}
	var out linkDTO
	if err := r.do(ctx, http.MethodGet, "/internal/identity/resolve?"+q.Encode(), nil, &out); err != nil {
		return Link{}, err
	}
	if !out.Linked {
		return Link{}, nil
	}
	return Link{Linked: true, UserID: out.UserID, Login: out.Login, Roles: out.Roles, Perms: out.Perms}, nil
}

// Login implements Service.
func (r *Remote) Login(ctx context.Context, providerCode, externalUserID, login, password string) (TokenEnvelope, error) {
	return r.credentials(ctx, "/internal/auth/login", providerCode, externalUserID, login, password)
}

// Register implements Service.
func (r *Remote) Register(ctx context.Context, providerCode, externalUserID, login, password string) (TokenEnvelope, error) {
	return r.credentials(ctx, "/internal/auth/register", providerCode, externalUserID, login, password)
}

// Unlink implements Service.
func (r *Remote) Unlink(ctx context.Context, providerCode, externalUserID string) error {
	body := credentialsDTO{ProviderCode: providerCode, ExternalUserID: externalUserID}
	return r.do(ctx, http.MethodPost, "/internal/identity/unlink", body, nil)
}

// IssueAccessToken implements Service.
func (r *Remote) IssueAccessToken(ctx context.Context, userID string) (string, error) {
	var out tokenDTO
	body := map[string]string{"userId": userID}
	if err := r.do(ctx, http.MethodPost, "/internal/auth/token", body, &out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

func (r *Remote) credentials(ctx context.Context, path, providerCode, externalUserID, login, password string) (TokenEnvelope, error) {
	body := credentialsDTO{
		ProviderCode:   providerCode,
		ExternalUserID: externalUserID,
		Login:          login,
		Password:       password,
	}
	var out tokenDTO
	if err := r.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return TokenEnvelope{}, err
	}
	return TokenEnvelope(out), nil
}

func (r *Remote) do(ctx context.Context, method, path string, in, out any) error {
	var rd io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("identity: remote: encode %s: %w", path, err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("identity: remote: build %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity: remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e errorDTO
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return statusError(resp.StatusCode, e)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("identity: remote: decode %s: %w", path, err)
	}
	return nil
}

// statusError maps backend failures onto the package sentinels.
func statusError(status int, e errorDTO) error {
	switch {
	case e.Code == "LOGIN_TAKEN" || status == http.StatusConflict:
		return ErrLoginTaken
	case e.Code == "NOT_LINKED":
		return ErrNotLinked
	case e.Code == "INVALID_CREDENTIALS" || status == http.StatusUnauthorized:
		return ErrInvalidCredentials
	case e.Code == "VALIDATION" || status == http.StatusBadRequest:
		if e.Message != "" {
			return fmt.Errorf("%w: %s", ErrInvalidInput, e.Message)
		}
		return ErrInvalidInput
	}
	if e.Message != "" {
		return fmt.Errorf("identity: remote: status %d: %s", status, e.Message)
	}
	return fmt.Errorf("identity: remote: status %d", status)
}
