// Package resolver turns user handles into numeric identities. Lookups are
// normalized, cached, and coalesced so a burst of requests for the same handle
// costs one upstream round trip.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonesrussell/castflow/internal/cache"
	"github.com/jonesrussell/castflow/internal/coalesce"
	"github.com/jonesrussell/castflow/internal/hub"
	"github.com/jonesrussell/castflow/internal/logger"
	"github.com/jonesrussell/castflow/internal/models"
)

// DefaultTTL is how long a resolved handle stays fresh in the cache. Handle
// ownership changes rarely.
const DefaultTTL = 15 * time.Minute

// Resolver resolves handles against the hub.
type Resolver struct {
	client  *hub.Client
	cache   *cache.Cache
	batcher *coalesce.Batcher[uint64]
	ttl     time.Duration
	logger  logger.Logger
}

// New creates a Resolver. ttl <= 0 selects DefaultTTL.
func New(client *hub.Client, c *cache.Cache, b *coalesce.Batcher[uint64], ttl time.Duration, log logger.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{
		client:  client,
		cache:   c,
		batcher: b,
		ttl:     ttl,
		logger:  log,
	}
}

// Normalize canonicalizes a raw handle: whitespace trimmed, a leading "@"
// stripped, the rest casefolded. Returns models.ErrValidation when nothing
// usable remains.
func Normalize(raw string) (string, error) {
	handle := strings.TrimSpace(raw)
	handle = strings.TrimPrefix(handle, "@")
	handle = strings.ToLower(handle)

	if handle == "" {
		return "", fmt.Errorf("%w: empty handle", models.ErrValidation)
	}
	for _, r := range handle {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_':
		default:
			return "", fmt.Errorf("%w: handle %q contains %q", models.ErrValidation, handle, r)
		}
	}
	return handle, nil
}

// Resolve maps a raw handle to its numeric identity. The proof registry is
// authoritative; when it has no entry the profile registry is consulted as a
// fallback. bypassCache forces a fresh lookup. Returns models.ErrNotFound when
// neither registry knows the handle.
func (r *Resolver) Resolve(ctx context.Context, rawHandle string, bypassCache bool) (uint64, error) {
	handle, err := Normalize(rawHandle)
	if err != nil {
		return 0, err
	}

	key := "resolve:" + handle
	if !bypassCache {
		if payload, _, ok := r.cache.Get(key); ok {
			fid, err := strconv.ParseUint(string(payload), 10, 64)
			if err == nil {
				return fid, nil
			}
		}
	}

	fid, err := r.batcher.Do(ctx, key, func(lookupCtx context.Context) (uint64, error) {
		return r.lookup(lookupCtx, handle)
	})
	if err != nil {
		return 0, err
	}

	r.cache.Set(key, []byte(strconv.FormatUint(fid, 10)), r.ttl)
	return fid, nil
}

func (r *Resolver) lookup(ctx context.Context, handle string) (uint64, error) {
	fid, err := r.client.ProofByHandle(ctx, handle)
	if err == nil {
		return fid, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return 0, err
	}

	r.logger.Debug("no proof for handle, trying profile registry",
		logger.String("handle", handle))

	fid, err = r.client.ProfileByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, fmt.Errorf("%w: handle %q", models.ErrNotFound, handle)
		}
		return 0, err
	}
	return fid, nil
}
