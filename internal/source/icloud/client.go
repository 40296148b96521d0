// Package icloud implements source.AssetSource against the iCloud web
// service endpoints. It assumes an already-authenticated access token;
// sign-in, token refresh and two-factor challenges are handled elsewhere.
package icloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go-icloud-backup/internal/models"
	"go-icloud-backup/internal/source"

	log "github.com/sirupsen/logrus"
)

// Client talks to the iCloud photo web service.
type Client struct {
	BaseURL    string
	HttpClient *http.Client
	token      string
}

// NewClient creates an API client. A nil httpClient gets a default with a
// timeout suitable for metadata calls; asset content streams use per-fetch
// contexts instead.
func NewClient(cfg models.SourceConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		BaseURL:    base,
		HttpClient: httpClient,
		token:      cfg.AccessToken,
	}
}

// assetPayload is the wire form of one library or album entry.
type assetPayload struct {
	ID         string     `json:"id"`
	Filename   string     `json:"filename"`
	MediaType  string     `json:"mediaType"` // image, video, live_image, live_video
	Format     string     `json:"format"`
	Created    *time.Time `json:"created,omitempty"`
	Uploaded   *time.Time `json:"uploaded,omitempty"`
	SizeBytes  int64      `json:"sizeBytes"`
	Checksum   string     `json:"checksum,omitempty"`
	LivePairID string     `json:"livePairId,omitempty"`
}

type listResponse struct {
	Assets []assetPayload `json:"assets"`
}

type albumsResponse struct {
	Albums []struct {
		Name string `json:"name"`
	} `json:"albums"`
}

// List enumerates one partition. Transport failures and non-auth server
// errors surface as ErrSourceUnavailable so the orchestrator can confine the
// damage to this partition.
func (c *Client) List(ctx context.Context, p models.Partition) ([]models.AssetRecord, error) {
	var endpoint string
	switch p.Kind {
	case models.PartitionPersonal:
		endpoint = c.BaseURL + "/v1/library/personal"
	case models.PartitionSharedWithMe:
		endpoint = c.BaseURL + "/v1/library/shared"
	case models.PartitionSharedAlbum:
		endpoint = c.BaseURL + "/v1/albums/" + url.PathEscape(p.Album) + "/assets"
	default:
		return nil, fmt.Errorf("unknown partition kind %q", p.Kind)
	}

	body, err := c.getJSON(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", p, err)
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding listing for %s: %v", source.ErrSourceUnavailable, p, err)
	}

	records := make([]models.AssetRecord, 0, len(resp.Assets))
	for _, a := range resp.Assets {
		records = append(records, models.AssetRecord{
			ID:          a.ID,
			Kind:        kindFromMediaType(a.MediaType),
			Format:      strings.ToUpper(a.Format),
			Filename:    a.Filename,
			CreatedAt:   a.Created,
			UploadedAt:  a.Uploaded,
			SizeBytes:   a.SizeBytes,
			Fingerprint: a.Checksum,
			LivePairID:  a.LivePairID,
			Partition:   p,
		})
	}
	log.Debugf("Listed %d assets in partition %s", len(records), p)
	return records, nil
}

// SharedAlbums returns the album names visible to the user.
func (c *Client) SharedAlbums(ctx context.Context) ([]string, error) {
	body, err := c.getJSON(ctx, c.BaseURL+"/v1/albums")
	if err != nil {
		return nil, fmt.Errorf("listing shared albums: %w", err)
	}
	var resp albumsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding album list: %v", source.ErrSourceUnavailable, err)
	}
	names := make([]string, 0, len(resp.Albums))
	for _, a := range resp.Albums {
		names = append(names, a.Name)
	}
	return names, nil
}

// Fetch streams one asset's bytes. Metadata rides on response headers: the
// capture time in X-Asset-Created, everything under X-Asset-Meta-* copied
// opaquely into the attribute bag.
func (c *Client) Fetch(ctx context.Context, asset models.AssetRecord) (io.ReadCloser, models.AssetMetadata, error) {
	endpoint := fmt.Sprintf("%s/v1/assets/%s/content?partition=%s",
		c.BaseURL, url.PathEscape(asset.ID), url.QueryEscape(asset.Partition.String()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, models.AssetMetadata{}, fmt.Errorf("%w: creating fetch request: %v", source.ErrTransient, err)
	}
	c.authorize(req)

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, models.AssetMetadata{}, fmt.Errorf("%w: fetching %s: %v", source.ErrTransient, asset.ID, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, models.AssetMetadata{}, statusError(resp.StatusCode, "fetch "+asset.ID)
	}

	meta := models.AssetMetadata{Attributes: map[string]string{}}
	if v := resp.Header.Get("X-Asset-Created"); v != "" {
		if t, parseErr := time.Parse(time.RFC3339, v); parseErr == nil {
			meta.CapturedAt = &t
		} else {
			log.WithError(parseErr).Debugf("Unparseable X-Asset-Created header for %s", asset.ID)
		}
	}
	for name, values := range resp.Header {
		if strings.HasPrefix(name, "X-Asset-Meta-") && len(values) > 0 {
			key := strings.TrimPrefix(name, "X-Asset-Meta-")
			meta.Attributes[key] = values[0]
		}
	}

	return resp.Body, meta, nil
}

const listRetries = 3

// getJSON performs a GET with bounded retries for transient statuses.
// Auth failures are returned immediately; retries are for the listing phase
// only, per-asset fetch retries belong to the retry tracker.
func (c *Client) getJSON(ctx context.Context, endpoint string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < listRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: creating request: %v", source.ErrSourceUnavailable, err)
		}
		req.Header.Set("Accept", "application/json")
		c.authorize(req)

		resp, err := c.HttpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", source.ErrSourceUnavailable, err)
		} else {
			switch resp.StatusCode {
			case http.StatusOK:
				body, readErr := io.ReadAll(resp.Body)
				resp.Body.Close()
				if readErr != nil {
					return nil, fmt.Errorf("%w: reading response: %v", source.ErrSourceUnavailable, readErr)
				}
				return body, nil
			case http.StatusUnauthorized, http.StatusForbidden:
				resp.Body.Close()
				return nil, statusError(resp.StatusCode, endpoint)
			default:
				resp.Body.Close()
				lastErr = statusError(resp.StatusCode, endpoint)
			}
		}

		if attempt < listRetries-1 {
			sleep := time.Duration(attempt+1) * 2 * time.Second
			log.WithError(lastErr).Warnf("Listing request failed, retrying (%d/%d) after %s...", attempt+1, listRetries, sleep)
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// statusError maps HTTP statuses onto the source error taxonomy.
func statusError(status int, what string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d on %s", source.ErrUnauthorized, status, what)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: status %d on %s", source.ErrNotFound, status, what)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status %d on %s", source.ErrTransient, status, what)
	default:
		return fmt.Errorf("%w: unexpected status %d on %s", source.ErrSourceUnavailable, status, what)
	}
}

func kindFromMediaType(mt string) models.AssetKind {
	switch mt {
	case "image":
		return models.KindImage
	case "video":
		return models.KindVideo
	case "live_image":
		return models.KindLivePhotoImage
	case "live_video":
		return models.KindLivePhotoMotion
	default:
		// Unknown media types flow through as images; the catalog's format
		// filter decides whether they are supported at all.
		return models.KindImage
	}
}
