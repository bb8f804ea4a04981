package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Directory resolves a role to its member users. It is an external
// collaborator; lookups are synchronous and a failure fails the engine
// operation that needed it.
type Directory interface {
	MembersOfRole(ctx context.Context, roleID string) ([]string, error)
}

// HTTPDirectory queries a directory service over HTTP.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDirectory(baseURL string, timeout time.Duration) *HTTPDirectory {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDirectory) MembersOfRole(ctx context.Context, roleID string) ([]string, error) {
	endpoint := d.baseURL + "/v1/roles/" + url.PathEscape(roleID) + "/members"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory lookup for role %s: %w", roleID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory lookup for role %s: status %d", roleID, resp.StatusCode)
	}
	var body struct {
		Members []string `json:"members"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("directory lookup for role %s: %w", roleID, err)
	}
	return body.Members, nil
}

// StaticDirectory maps role ids to members directly. Used in tests and in
// dev configurations without a directory service.
type StaticDirectory map[string][]string

func (d StaticDirectory) MembersOfRole(_ context.Context, roleID string) ([]string, error) {
	return append([]string(nil), d[roleID]...), nil
}
