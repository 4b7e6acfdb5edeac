// Package profile resolves participant display profiles. Lookups are
// best-effort enrichment for the call roster: a missing profile must never
// block a connection.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	logging "github.com/ipfs/go-log/v2"

	"github.com/sangam-app/callcore/internal/util"
)

var log = logging.Logger("profile")

// Profile is the minimal display information for one participant.
type Profile struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// Source resolves a participant identifier to a profile.
type Source interface {
	Lookup(ctx context.Context, participantID string) (Profile, error)
}

// HTTPSource fetches profiles from the remote directory endpoint.
type HTTPSource struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSource creates a source for endpoint, e.g.
// "https://api.example.com/profiles". The participant ID is appended as a
// path segment.
func NewHTTPSource(endpoint string) *HTTPSource {
	return &HTTPSource{
		endpoint: endpoint,
		client:   &http.Client{Timeout: util.DefaultFetchTimeout},
	}
}

func (s *HTTPSource) Lookup(ctx context.Context, participantID string) (Profile, error) {
	if s.endpoint == "" {
		return Profile{}, fmt.Errorf("profile: no directory endpoint configured")
	}

	u := s.endpoint + "/" + url.PathEscape(participantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Profile{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("profile: lookup %s: %w", participantID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("profile: lookup %s: status %d", participantID, resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("profile: decode %s: %w", participantID, err)
	}
	return p, nil
}
