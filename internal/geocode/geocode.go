// Package geocode resolves free-form addresses to coordinates through
// the Google Geocoding API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tesivil/crmbot/internal/config"
)

// Result is a resolved address.
type Result struct {
	Lat              float64
	Lng              float64
	FormattedAddress string
}

// Geocoder resolves addresses to coordinates.
type Geocoder interface {
	// Geocode resolves addr, biased to the configured country.
	// Returns nil with no error when the address cannot be resolved.
	Geocode(ctx context.Context, addr string) (*Result, error)
}

type client struct {
	httpClient *http.Client
	log        *slog.Logger
	apiKey     string
	country    string
}

// NewClient creates a Google Geocoding client from configuration.
func NewClient(cfg config.GeocodeConfig, log *slog.Logger) Geocoder {
	return &client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With("component", "geocoder"),
		apiKey:     cfg.APIKey,
		country:    cfg.Country,
	}
}

const geocodeEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

func (c *client) Geocode(ctx context.Context, addr string) (*Result, error) {
	if c.apiKey == "" {
		c.log.WarnContext(ctx, "Geocoding skipped, no API key configured")
		return nil, nil
	}

	q := url.Values{}
	q.Set("address", addr)
	q.Set("components", "country:"+c.country)
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, geocodeEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build geocode request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read geocode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode API returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Status  string `json:"status"`
		Results []struct {
			FormattedAddress string `json:"formatted_address"`
			Geometry         struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
			} `json:"geometry"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse geocode response: %w", err)
	}

	if parsed.Status != "OK" || len(parsed.Results) == 0 {
		c.log.InfoContext(ctx, "Address did not geocode", "address", addr, "status", parsed.Status)
		return nil, nil
	}

	first := parsed.Results[0]
	return &Result{
		Lat:              first.Geometry.Location.Lat,
		Lng:              first.Geometry.Location.Lng,
		FormattedAddress: first.FormattedAddress,
	}, nil
}
