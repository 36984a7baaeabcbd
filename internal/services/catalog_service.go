package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"tunesync-service/internal/config"
	"tunesync-service/internal/models"
)

// CatalogService queries the upstream track catalog with app credentials.
// Requests are rate limited so a burst of client searches cannot exhaust
// the upstream quota.
type CatalogService struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewCatalogService(cfg config.CatalogConfig) *CatalogService {
	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	client := creds.Client(context.Background())
	client.Timeout = 10 * time.Second

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	return &CatalogService{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
	}
}

type searchResponse struct {
	Tracks struct {
		Items []catalogTrack `json:"items"`
	} `json:"tracks"`
}

type catalogTrack struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"album"`
	DurationMS   int64 `json:"duration_ms"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

// Search looks up tracks matching the query and maps them to the local
// track shape.
func (s *CatalogService) Search(ctx context.Context, query string, limit int) ([]models.Track, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog search returned status %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}

	tracks := make([]models.Track, 0, len(body.Tracks.Items))
	for _, item := range body.Tracks.Items {
		tracks = append(tracks, mapCatalogTrack(item))
	}
	return tracks, nil
}

// FetchProfile loads the external account profile using a user access token
// obtained from the OAuth callback.
func FetchProfile(ctx context.Context, client *http.Client, baseURL string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/me", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile request returned status %d", resp.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &profile, nil
}

func mapCatalogTrack(item catalogTrack) models.Track {
	artists := make([]string, 0, len(item.Artists))
	for _, a := range item.Artists {
		artists = append(artists, a.Name)
	}
	icon := ""
	if len(item.Album.Images) > 0 {
		icon = item.Album.Images[0].URL
	}
	return models.Track{
		ID:       item.ID,
		Title:    item.Name,
		Artist:   strings.Join(artists, ", "),
		Icon:     icon,
		URL:      item.ExternalURLs.Spotify,
		Duration: item.DurationMS,
	}
}
