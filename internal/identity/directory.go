// Package identity resolves external user identities to display names and
// avatars. The ledger only stores an opaque external ID per user; this
// package is the one place that talks to the user directory behind it.
package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Directory defines the user directory the Resolver reads from.
// Responses are returned raw because directories disagree on their shape;
// NormalizeUsers turns any of them into profiles.
type Directory interface {
	// Me returns the signed-in user.
	Me(ctx context.Context) ([]byte, error)

	// GetUser returns one user by directory ID.
	GetUser(ctx context.Context, id string) ([]byte, error)

	// ListUsers searches users by name, mail or username and returns at most
	// limit matches ordered by display name.
	ListUsers(ctx context.Context, query string, limit int) ([]byte, error)
}

// graphPrefix is the path of the Graph-style user API under a base URL.
const graphPrefix = "/graph/v1.0"

// HTTPDirectory is a Directory backed by a Graph-style HTTP API.
type HTTPDirectory struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ Directory = (*HTTPDirectory)(nil)

// NewHTTPDirectory creates a directory client for baseURL. A non-empty token
// is sent as a bearer token. A nil client uses one with a 10 second timeout.
func NewHTTPDirectory(baseURL, token string, client *http.Client) *HTTPDirectory {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// Me fetches the signed-in user.
func (d *HTTPDirectory) Me(ctx context.Context) ([]byte, error) {
	return d.get(ctx, graphPrefix+"/me", nil)
}

// GetUser fetches one user.
func (d *HTTPDirectory) GetUser(ctx context.Context, id string) ([]byte, error) {
	return d.get(ctx, graphPrefix+"/users/"+url.PathEscape(id), nil)
}

// ListUsers runs a directory search.
func (d *HTTPDirectory) ListUsers(ctx context.Context, query string, limit int) ([]byte, error) {
	params := url.Values{}
	params.Set("$search", strconv.Quote(query))
	params.Set("$orderby", "displayName")
	params.Set("$top", strconv.Itoa(limit))
	return d.get(ctx, graphPrefix+"/users", params)
}

func (d *HTTPDirectory) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	target := d.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query directory: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory returned %s for %s", resp.Status, path)
	}
	return body, nil
}

// AvatarURL is where the directory serves a user's photo.
func AvatarURL(baseURL, id string) string {
	if baseURL == "" || id == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + graphPrefix + "/users/" + url.PathEscape(id) + "/photo/$value"
}
