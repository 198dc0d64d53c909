// Package identity is the client for the external identity store's admin
// API. The store owns durable user records and mints magic-link
// credentials; this service only looks users up by email, creates them,
// and requests login links.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrEmailTaken is returned by CreateUser when the store already holds an
// identity for the email. Callers treat it as "already exists, look it up
// again" rather than a failure.
var ErrEmailTaken = errors.New("identity: email already registered")

type User struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	EmailConfirmed bool   `json:"email_confirmed"`
}

type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(baseURL, serviceKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the service key is set.
func (c *Client) Configured() bool {
	return c.serviceKey != "" && c.baseURL != ""
}

// NormalizeEmail lowercases and trims an address. Every store call keys
// on the normalized form so lookups and creates agree on identity.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserByEmail looks up a single user by email through the store's indexed
// query. Returns (nil, nil) when no user exists.
func (c *Client) UserByEmail(ctx context.Context, email string) (*User, error) {
	q := url.Values{"email": {NormalizeEmail(email)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/admin/users?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity store lookup: status %d", resp.StatusCode)
	}

	var result struct {
		Users []User `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode lookup response: %w", err)
	}
	if len(result.Users) == 0 {
		return nil, nil
	}
	return &result.Users[0], nil
}

// CreateUser registers a new identity with the email marked confirmed.
// A completed purchase is proof the inbox works, so no confirmation email
// is sent.
func (c *Client) CreateUser(ctx context.Context, email string) (*User, error) {
	payload := map[string]any{
		"email":         NormalizeEmail(email),
		"email_confirm": true,
	}
	var user User
	if err := c.post(ctx, "/admin/users", payload, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GenerateMagicLink asks the store to mint a single-use login link for
// the email, landing on redirectTo after verification.
func (c *Client) GenerateMagicLink(ctx context.Context, email, redirectTo string) (string, error) {
	payload := map[string]any{
		"type":        "magiclink",
		"email":       NormalizeEmail(email),
		"redirect_to": redirectTo,
	}
	var result struct {
		ActionLink string `json:"action_link"`
	}
	if err := c.post(ctx, "/admin/generate_link", payload, &result); err != nil {
		return "", err
	}
	return result.ActionLink, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity store request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		return ErrEmailTaken
	case resp.StatusCode >= 400:
		return fmt.Errorf("identity store %s: status %d", path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Accept", "application/json")
}
