package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// LookupResolver verifies ID tokens against a remote account lookup
// endpoint (the identitytoolkit accounts:lookup protocol).
type LookupResolver struct {
	client *resty.Client
	apiKey string
}

type lookupRequest struct {
	IDToken string `json:"idToken"`
}

type lookupResponse struct {
	Users []struct {
		LocalID  string `json:"localId"`
		Email    string `json:"email"`
		Disabled bool   `json:"disabled"`
	} `json:"users"`
}

// NewLookupResolver creates a resolver calling baseURL with apiKey.
func NewLookupResolver(baseURL, apiKey string) *LookupResolver {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json")

	return &LookupResolver{client: client, apiKey: apiKey}
}

// Resolve implements Resolver.
func (r *LookupResolver) Resolve(ctx context.Context, token string) (*Identity, error) {
	var out lookupResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam("key", r.apiKey).
		SetBody(lookupRequest{IDToken: token}).
		SetResult(&out).
		Post("/v1/accounts:lookup")
	if err != nil {
		return nil, fmt.Errorf("identity lookup failed: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusOK:
	case resp.StatusCode() >= 400 && resp.StatusCode() < 500:
		return nil, fmt.Errorf("%w: lookup returned %d", ErrInvalidCredential, resp.StatusCode())
	default:
		return nil, fmt.Errorf("identity lookup returned %d", resp.StatusCode())
	}

	if len(out.Users) == 0 || out.Users[0].Disabled {
		return nil, fmt.Errorf("%w: no active account for token", ErrInvalidCredential)
	}

	user := out.Users[0]
	return verified(&Identity{UserID: user.LocalID, Email: user.Email})
}
