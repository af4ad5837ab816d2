// Package tidal is the TIDAL Web API client: catalog search, playlist
// reads, and the playlist mutations that carry out edit plans.
package tidal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"cratemirror/internal/logger"
	"cratemirror/internal/reconcile"
	"cratemirror/internal/remote"
)

const pageSize = 100

// Client is a TIDAL Web API client. It implements the catalog-search and
// playlist-mutation collaborator roles.
type Client struct {
	httpClient *http.Client
	log        *logger.Logger

	mu          sync.Mutex
	userID      int64
	countryCode string

	// Overridable for testing
	apiURL   string
	apiV2URL string
}

// New builds a client from the cached device-flow token. Fails when no token
// is cached; run login first.
func New(ctx context.Context, clientID string, log *logger.Logger) (*Client, error) {
	tok, err := loadToken()
	if err != nil {
		return nil, fmt.Errorf("no cached tidal session (run login first): %w", err)
	}
	cfg := oauthConfig(clientID)
	src := &persistingSource{src: cfg.TokenSource(ctx, tok), last: tok}

	c := newClient(oauth2.NewClient(ctx, src), log)
	return c, nil
}

func newClient(hc *http.Client, log *logger.Logger) *Client {
	if hc.Timeout == 0 {
		hc.Timeout = 15 * time.Second
	}
	return &Client{
		httpClient: hc,
		log:        log,
		apiURL:     "https://api.tidal.com/v1",
		apiV2URL:   "https://listen.tidal.com/v2",
	}
}

// session lazily resolves the user ID and country code for the token.
func (c *Client) session(ctx context.Context) (int64, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.countryCode != "" {
		return c.userID, c.countryCode, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/sessions", nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := c.doWithRetry(req)
	if err != nil {
		return 0, "", fmt.Errorf("session lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, "", fmt.Errorf("session lookup returned %d: %s", resp.StatusCode, body)
	}

	var sess sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return 0, "", fmt.Errorf("failed to decode session response: %w", err)
	}
	c.userID = sess.UserID
	c.countryCode = sess.CountryCode
	return c.userID, c.countryCode, nil
}

// Search queries the track catalog. Results keep TIDAL's relevance order.
func (c *Client) Search(ctx context.Context, title, artist string) ([]remote.Track, error) {
	query := strings.TrimSpace(title + " " + artist)
	if query == "" {
		return nil, nil
	}

	_, country, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/search/tracks?query=%s&limit=10&countryCode=%s",
		c.apiURL, url.QueryEscape(query), country)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}

	resp, err := c.doWithRetry(req)
	if err != nil {
		return nil, fmt.Errorf("tidal search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tidal search returned %d: %s", resp.StatusCode, body)
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode tidal response: %w", err)
	}
	return parseTracks(searchResp.Items), nil
}

// PlaylistTracks returns the remote track IDs of a playlist in order,
// paging through the items endpoint. A deleted playlist yields
// remote.ErrPlaylistGone.
func (c *Client) PlaylistTracks(ctx context.Context, playlistID string) ([]string, error) {
	_, country, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	for offset := 0; ; offset += pageSize {
		reqURL := fmt.Sprintf("%s/playlists/%s/items?limit=%d&offset=%d&countryCode=%s",
			c.apiURL, url.PathEscape(playlistID), pageSize, offset, country)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.doWithRetry(req)
		if err != nil {
			return nil, fmt.Errorf("playlist items request failed: %w", err)
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return nil, fmt.Errorf("playlist %s: %w", playlistID, remote.ErrPlaylistGone)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("playlist items returned %d: %s", resp.StatusCode, body)
		}

		var page itemsResponse
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode playlist items: %w", err)
		}

		for _, entry := range page.Items {
			ids = append(ids, strconv.FormatInt(entry.Item.ID, 10))
		}
		if offset+pageSize >= page.TotalNumberOfItems || len(page.Items) == 0 {
			break
		}
	}
	return ids, nil
}

// CreatePlaylist creates an empty playlist, optionally inside a folder
// ("root" places it at the collection top level). Returns the playlist UUID.
func (c *Client) CreatePlaylist(ctx context.Context, name, description, folderID string) (string, error) {
	if folderID == "" {
		folderID = "root"
	}

	params := url.Values{
		"name":        {name},
		"description": {description},
		"folderId":    {folderID},
	}
	reqURL := c.apiV2URL + "/my-collection/playlists/folders/create-playlist?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, reqURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.doWithRetry(req)
	if err != nil {
		return "", fmt.Errorf("create playlist request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("create playlist returned %d: %s", resp.StatusCode, body)
	}

	var created createResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("failed to decode create response: %w", err)
	}
	if created.Data.UUID == "" {
		return "", fmt.Errorf("create playlist response missing uuid")
	}
	return created.Data.UUID, nil
}

// Apply executes a plan against a playlist. current must be the track order
// the plan was computed from; indices for each mutation are derived from a
// working copy that tracks the remote state op by op. On failure the
// returned error is a *remote.PartialApplyError and already-applied ops stay
// applied.
func (c *Client) Apply(ctx context.Context, playlistID string, current []string, plan reconcile.Plan) (int, error) {
	if plan.Empty() {
		return 0, nil
	}

	working := append([]string(nil), current...)
	applied := 0
	for _, op := range plan.Ops {
		var err error
		if err = ctx.Err(); err == nil {
			switch op.Kind {
			case reconcile.OpRemove:
				working, err = c.removeTrack(ctx, playlistID, working, op.RemoteID)
			case reconcile.OpMove:
				working, err = c.moveTrack(ctx, playlistID, working, op.RemoteID, op.Position)
			case reconcile.OpAdd:
				working, err = c.addTrack(ctx, playlistID, working, op.RemoteID, op.Position)
			default:
				err = fmt.Errorf("unknown op kind %v", op.Kind)
			}
		}
		if err != nil {
			return applied, &remote.PartialApplyError{Applied: applied, Total: len(plan.Ops), Err: err}
		}
		applied++
	}
	return applied, nil
}

func (c *Client) removeTrack(ctx context.Context, playlistID string, working []string, remoteID string) ([]string, error) {
	idx := indexOf(working, remoteID)
	if idx < 0 {
		return nil, fmt.Errorf("track %s not in playlist", remoteID)
	}

	reqURL := fmt.Sprintf("%s/playlists/%s/items/%d",
		c.apiURL, url.PathEscape(playlistID), idx)
	if err := c.mutate(ctx, playlistID, http.MethodDelete, reqURL, nil); err != nil {
		return nil, fmt.Errorf("remove %s: %w", remoteID, err)
	}
	return append(working[:idx], working[idx+1:]...), nil
}

func (c *Client) moveTrack(ctx context.Context, playlistID string, working []string, remoteID string, to int) ([]string, error) {
	from := indexOf(working, remoteID)
	if from < 0 {
		return nil, fmt.Errorf("track %s not in playlist", remoteID)
	}

	reqURL := fmt.Sprintf("%s/playlists/%s/items/%d/move",
		c.apiURL, url.PathEscape(playlistID), from)
	body := url.Values{"toIndex": {strconv.Itoa(to)}}
	if err := c.mutate(ctx, playlistID, http.MethodPost, reqURL, body); err != nil {
		return nil, fmt.Errorf("move %s: %w", remoteID, err)
	}

	working = append(working[:from], working[from+1:]...)
	working = append(working[:to], append([]string{remoteID}, working[to:]...)...)
	return working, nil
}

func (c *Client) addTrack(ctx context.Context, playlistID string, working []string, remoteID string, at int) ([]string, error) {
	reqURL := fmt.Sprintf("%s/playlists/%s/items", c.apiURL, url.PathEscape(playlistID))
	body := url.Values{
		"trackIds": {remoteID},
		"toIndex":  {strconv.Itoa(at)},
		"onDupes":  {"FAIL"},
	}
	if err := c.mutate(ctx, playlistID, http.MethodPost, reqURL, body); err != nil {
		return nil, fmt.Errorf("add %s: %w", remoteID, err)
	}
	return append(working[:at], append([]string{remoteID}, working[at:]...)...), nil
}

// mutate performs one playlist mutation. TIDAL guards playlist writes with
// ETag preconditions, so each mutation first fetches the current tag.
func (c *Client) mutate(ctx context.Context, playlistID, method, reqURL string, form url.Values) error {
	etag, err := c.playlistETag(ctx, playlistID)
	if err != nil {
		return err
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("If-None-Match", etag)

	resp, err := c.doWithRetry(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("playlist %s: %w", playlistID, remote.ErrPlaylistGone)
	case resp.StatusCode == http.StatusPreconditionFailed:
		return fmt.Errorf("playlist %s changed concurrently", playlistID)
	case resp.StatusCode >= 300:
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mutation returned %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

func (c *Client) playlistETag(ctx context.Context, playlistID string) (string, error) {
	_, country, err := c.session(ctx)
	if err != nil {
		return "", err
	}

	reqURL := fmt.Sprintf("%s/playlists/%s?countryCode=%s",
		c.apiURL, url.PathEscape(playlistID), country)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.doWithRetry(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("playlist %s: %w", playlistID, remote.ErrPlaylistGone)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("playlist lookup returned %d", resp.StatusCode)
	}
	return resp.Header.Get("ETag"), nil
}

// doWithRetry executes the request, retrying once on 429.
// Clones the request before retry to avoid issues with consumed bodies.
func (c *Client) doWithRetry(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		retryAfter := 1
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if parsed, err := strconv.Atoi(ra); err == nil {
				retryAfter = parsed
			}
		}
		time.Sleep(time.Duration(retryAfter) * time.Second)

		retry := req.Clone(req.Context())
		return c.httpClient.Do(retry)
	}

	return resp, nil
}

func parseTracks(items []trackItem) []remote.Track {
	var results []remote.Track
	for _, item := range items {
		var artists []string
		for _, a := range item.Artists {
			artists = append(artists, a.Name)
		}
		if len(artists) == 0 && item.Artist.Name != "" {
			artists = append(artists, item.Artist.Name)
		}

		results = append(results, remote.Track{
			ID:       strconv.FormatInt(item.ID, 10),
			Title:    item.Title,
			Artist:   strings.Join(artists, ", "),
			Duration: time.Duration(item.Duration) * time.Second,
			Tiers:    tiersFor(item),
		})
	}
	return results
}

// tiersFor derives the offered quality tiers from the track's top
// audioQuality plus the hi-res media tag.
func tiersFor(item trackItem) []remote.Quality {
	top, err := remote.ParseQuality(item.AudioQuality)
	if err != nil {
		top = remote.QualityHigh
	}

	var tiers []remote.Quality
	for _, q := range remote.Qualities {
		tiers = append(tiers, q)
		if q == top {
			break
		}
	}
	if top != remote.QualityHiResLossless {
		for _, tag := range item.MediaMetadata.Tags {
			if tag == "HIRES_LOSSLESS" {
				tiers = append(tiers, remote.QualityHiResLossless)
				break
			}
		}
	}
	return tiers
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

// TIDAL API response types

type sessionResponse struct {
	SessionID   string `json:"sessionId"`
	UserID      int64  `json:"userId"`
	CountryCode string `json:"countryCode"`
}

type searchResponse struct {
	Items []trackItem `json:"items"`
}

type trackItem struct {
	ID            int64       `json:"id"`
	Title         string      `json:"title"`
	Duration      int         `json:"duration"` // seconds
	Artist        artistRef   `json:"artist"`
	Artists       []artistRef `json:"artists"`
	AudioQuality  string      `json:"audioQuality"`
	MediaMetadata struct {
		Tags []string `json:"tags"`
	} `json:"mediaMetadata"`
}

type artistRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type itemsResponse struct {
	TotalNumberOfItems int `json:"totalNumberOfItems"`
	Items              []struct {
		Item trackItem `json:"item"`
	} `json:"items"`
}

type createResponse struct {
	Data struct {
		UUID string `json:"uuid"`
	} `json:"data"`
}
