// Package hub is the HTTP client for the upstream hub API. Every request goes
// through the gate, so circuit breaking, retries, pacing, and the absolute
// timeout apply uniformly across endpoints.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonesrussell/castflow/internal/gate"
	"github.com/jonesrussell/castflow/internal/logger"
	"github.com/jonesrussell/castflow/internal/models"
)

// Endpoint names double as circuit-breaker keys, so each upstream route trips
// independently.
const (
	EndpointProofByHandle         = "proofByHandle"
	EndpointProfileByHandle       = "profileByHandle"
	EndpointProfileDataByIdentity = "profileDataByIdentity"
	EndpointPostsByIdentity       = "postsByIdentity"
	EndpointReactionsByPost       = "reactionsByPost"
	EndpointPostByID              = "postById"
)

// Reaction type values the hub accepts.
const (
	ReactionLike   = "Like"
	ReactionRecast = "Recast"
)

// DefaultPageSize is the per-page record count requested from the hub.
const DefaultPageSize = 100

// maxResponseBytes bounds how much of an upstream response body is read.
const maxResponseBytes = 8 << 20

// Config configures a Client.
type Config struct {
	// BaseURL is the hub API root, e.g. "https://hub.example.com".
	BaseURL string
	// PageSize is the per-page record count; defaults to DefaultPageSize.
	PageSize int
}

// Client talks to the hub API.
type Client struct {
	baseURL    string
	pageSize   int
	httpClient *http.Client
	gate       *gate.Gate
	logger     logger.Logger
}

// NewClient creates a hub client dispatching through g. The HTTP client
// carries no timeout of its own; the gate's absolute per-call timeout governs
// via request context.
func NewClient(cfg Config, g *gate.Gate, log logger.Logger) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &Client{
		baseURL:  cfg.BaseURL,
		pageSize: pageSize,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		gate:   g,
		logger: log,
	}
}

// PageSize returns the configured per-page record count.
func (c *Client) PageSize() int {
	return c.pageSize
}

// ProofByHandle resolves a handle to a numeric identity via the proof
// endpoint. Returns models.ErrNotFound when the hub has no proof for the
// handle.
func (c *Client) ProofByHandle(ctx context.Context, handle string) (uint64, error) {
	query := url.Values{"name": {handle}}
	env, err := c.getEnvelope(ctx, EndpointProofByHandle, query)
	if err != nil {
		return 0, err
	}
	return fidFromEnvelope(env)
}

// ProfileByHandle resolves a handle to a numeric identity via the profile
// registry, the fallback path when no proof exists.
func (c *Client) ProfileByHandle(ctx context.Context, handle string) (uint64, error) {
	query := url.Values{"name": {handle}}
	env, err := c.getEnvelope(ctx, EndpointProfileByHandle, query)
	if err != nil {
		return 0, err
	}
	return fidFromEnvelope(env)
}

// ProfileDataByIdentity fetches all profile attribute records for an identity.
func (c *Client) ProfileDataByIdentity(ctx context.Context, fid uint64) (*Envelope, error) {
	query := url.Values{"fid": {strconv.FormatUint(fid, 10)}}
	return c.getEnvelope(ctx, EndpointProfileDataByIdentity, query)
}

// PostsByIdentity fetches one page of posts for an identity. reverse=true
// pages newest-first. An empty pageToken starts from the beginning; the
// returned envelope's NextPageToken continues the walk, absent at the end.
func (c *Client) PostsByIdentity(ctx context.Context, fid uint64, pageSize int, reverse bool, pageToken string) (*Envelope, error) {
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	query := url.Values{
		"fid":      {strconv.FormatUint(fid, 10)},
		"pageSize": {strconv.Itoa(pageSize)},
	}
	if reverse {
		query.Set("reverse", "true")
	}
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}
	return c.getEnvelope(ctx, EndpointPostsByIdentity, query)
}

// ReactionCount counts reactions of one type on a post.
func (c *Client) ReactionCount(ctx context.Context, target models.PostRef, reactionType string) (int, error) {
	query := url.Values{
		"target_fid":    {strconv.FormatUint(target.Fid, 10)},
		"target_hash":   {target.Hash},
		"reaction_type": {reactionType},
	}
	env, err := c.getEnvelope(ctx, EndpointReactionsByPost, query)
	if err != nil {
		return 0, err
	}
	return len(env.Messages), nil
}

// PostByID fetches a single post record by content hash. Returns
// models.ErrNotFound when the hub does not have the post.
func (c *Client) PostByID(ctx context.Context, ref models.PostRef) (*Message, error) {
	query := url.Values{
		"fid":  {strconv.FormatUint(ref.Fid, 10)},
		"hash": {ref.Hash},
	}
	env, err := c.getEnvelope(ctx, EndpointPostByID, query)
	if err != nil {
		return nil, err
	}
	if len(env.Messages) == 0 {
		return nil, fmt.Errorf("%w: post %s", models.ErrNotFound, ref.Hash)
	}
	return &env.Messages[0], nil
}

// getEnvelope performs one GET through the gate and decodes the standard
// envelope.
func (c *Client) getEnvelope(ctx context.Context, endpoint string, query url.Values) (*Envelope, error) {
	var env *Envelope

	err := c.gate.Dispatch(ctx, endpoint, func(callCtx context.Context) error {
		decoded, err := c.get(callCtx, endpoint, query)
		if err != nil {
			return err
		}
		env = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values) (*Envelope, error) {
	reqURL := fmt.Sprintf("%s/v1/%s?%s", c.baseURL, endpoint, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return nil, context.Canceled
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %s", models.ErrTimeout, endpoint)
		}
		return nil, models.NewUpstreamError(endpoint, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, models.NewUpstreamError(endpoint, resp.StatusCode, err)
	}

	c.logger.Debug("hub response",
		logger.String("endpoint", endpoint),
		logger.Int("status", resp.StatusCode),
		logger.Int("bytes", len(body)),
		logger.Duration("elapsed", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", models.ErrRateLimited, endpoint)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, endpoint)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, models.NewUpstreamError(endpoint, resp.StatusCode,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	env, err := DecodeEnvelope(body)
	if err != nil {
		return nil, models.NewUpstreamError(endpoint, resp.StatusCode,
			fmt.Errorf("decoding envelope: %w", err))
	}
	return env, nil
}

// fidFromEnvelope pulls the identity out of a resolution response.
func fidFromEnvelope(env *Envelope) (uint64, error) {
	for i := range env.Messages {
		if d := env.Messages[i].Data; d != nil && d.Fid != 0 {
			return d.Fid, nil
		}
	}
	return 0, models.ErrNotFound
}
