// ============================================================================
// lapboard Speedhive live-timing client
// ============================================================================
//
// Package: internal/speedhive
// File: client.go
// Purpose: Two-stage session retrieval from the live-timing API
//
// Retrieval:
//   1. GET {base}/events/{e}/sessions/{s}/data          -> roster {"l":[{"id","nam"}]}
//   2. GET {base}/events/{e}/sessions/{s}/competitor/{id} per roster entry
//      -> {"results":[{"lsTm":...},{"btTm":...}]}
//
// Failure policy:
//   - roster: any transport error or non-2xx aborts the call
//   - competitor 404: competitor left the session; skipped and listed in Missing
//   - competitor, anything else: the whole call aborts and partial results are
//     discarded. The errgroup context cancels the requests still running.
//
// Competitor requests run concurrently (bounded by Config.Concurrency); the
// snapshot keeps roster order regardless of completion order.
//
// ============================================================================

package speedhive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/lapboard/pkg/types"
)

// Defaults match what the public live-timing web app sends.
const (
	DefaultBaseURL     = "https://lt-api.speedhive.com/api"
	DefaultOrigin      = "https://speedhive.mylaps.com"
	DefaultReferer     = "https://speedhive.mylaps.com/"
	DefaultTimeout     = 5 * time.Second
	DefaultConcurrency = 4
	userAgent          = "lapboard/1.0"
)

// Config configures a Client. Zero values fall back to the defaults above.
type Config struct {
	BaseURL     string
	Origin      string
	Referer     string
	Timeout     time.Duration // per request
	Concurrency int           // parallel competitor requests
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client fetches session snapshots. It is safe for concurrent use.
type Client struct {
	baseURL     string
	origin      string
	referer     string
	concurrency int
	http        *http.Client
	log         *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		origin:      cfg.Origin,
		referer:     cfg.Referer,
		concurrency: cfg.Concurrency,
		http:        cfg.HTTPClient,
		log:         cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.origin == "" {
		c.origin = DefaultOrigin
	}
	if c.referer == "" {
		c.referer = DefaultReferer
	}
	if c.concurrency < 1 {
		c.concurrency = DefaultConcurrency
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// competitorID accepts both numeric and string ids.
type competitorID string

func (id *competitorID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = competitorID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("competitor id: %w", err)
	}
	*id = competitorID(n.String())
	return nil
}

type rosterResponse struct {
	L []rosterEntry `json:"l"`
}

type rosterEntry struct {
	ID   competitorID `json:"id"`
	Name string       `json:"nam"`
}

type detailResponse struct {
	Results []struct {
		LastTime *string `json:"lsTm"`
		BestTime *string `json:"btTm"`
	} `json:"results"`
}

// FetchSession retrieves the roster and every competitor's laps.
func (c *Client) FetchSession(ctx context.Context, eventID, sessionID string) (types.SessionSnapshot, error) {
	start := time.Now()

	roster, err := c.roster(ctx, eventID, sessionID)
	if err != nil {
		return types.SessionSnapshot{}, &FetchError{Op: "roster", Err: err}
	}

	details := make([]*types.Competitor, len(roster))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, entry := range roster {
		i, entry := i, entry
		g.Go(func() error {
			comp, err := c.competitor(gctx, eventID, sessionID, entry)
			if err != nil {
				if IsNotFound(err) {
					c.log.Debug("Competitor not found, skipping", "competitor", entry.ID, "name", entry.Name)
					return nil
				}
				return &FetchError{Op: "competitor", CompetitorID: string(entry.ID), Err: err}
			}
			details[i] = comp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return types.SessionSnapshot{}, err
	}

	snap := types.SessionSnapshot{
		EventID:     eventID,
		SessionID:   sessionID,
		Competitors: make([]types.Competitor, 0, len(roster)),
	}
	index := make(map[string]int, len(roster))
	for i, comp := range details {
		if comp == nil {
			snap.Missing = append(snap.Missing, string(roster[i].ID))
			continue
		}
		// a repeated id replaces the earlier entry in place
		if at, dup := index[comp.ID]; dup {
			snap.Competitors[at] = *comp
			continue
		}
		index[comp.ID] = len(snap.Competitors)
		snap.Competitors = append(snap.Competitors, *comp)
	}

	c.log.Debug("Session fetched",
		"event", eventID,
		"session", sessionID,
		"competitors", len(snap.Competitors),
		"missing", len(snap.Missing),
		"duration", time.Since(start))

	return snap, nil
}

func (c *Client) roster(ctx context.Context, eventID, sessionID string) ([]rosterEntry, error) {
	u := fmt.Sprintf("%s/events/%s/sessions/%s/data",
		c.baseURL, url.PathEscape(eventID), url.PathEscape(sessionID))

	var resp rosterResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp.L, nil
}

func (c *Client) competitor(ctx context.Context, eventID, sessionID string, entry rosterEntry) (*types.Competitor, error) {
	u := fmt.Sprintf("%s/events/%s/sessions/%s/competitor/%s",
		c.baseURL, url.PathEscape(eventID), url.PathEscape(sessionID), url.PathEscape(string(entry.ID)))

	var resp detailResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: %v", ErrCompetitorNotFound, err)
		}
		return nil, err
	}

	comp := &types.Competitor{
		ID:          string(entry.ID),
		Name:        entry.Name,
		RawLapTimes: make([]string, 0, len(resp.Results)),
	}
	for _, r := range resp.Results {
		if r.LastTime != nil {
			comp.RawLapTimes = append(comp.RawLapTimes, *r.LastTime)
		}
		if r.BestTime != nil && !comp.HasBestTime {
			comp.BestTimeRaw = *r.BestTime
			comp.HasBestTime = true
		}
	}
	return comp, nil
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Origin", c.origin)
	req.Header.Set("Referer", c.referer)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return &StatusError{StatusCode: resp.StatusCode, URL: u}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", u, err)
	}
	return nil
}
