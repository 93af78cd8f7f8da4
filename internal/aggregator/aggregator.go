// Package aggregator assembles one identity's profile and post history from
// the hub. It drives pagination, filters and enriches posts, and serves the
// assembled bundle through the shared cache with stale-while-revalidate
// refresh.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonesrussell/castflow/internal/cache"
	"github.com/jonesrussell/castflow/internal/coalesce"
	"github.com/jonesrussell/castflow/internal/hub"
	"github.com/jonesrussell/castflow/internal/logger"
	"github.com/jonesrussell/castflow/internal/metrics"
	"github.com/jonesrussell/castflow/internal/models"
)

// Defaults for the aggregation pipeline.
const (
	// DefaultBundleTTL is how long an assembled bundle stays fresh.
	DefaultBundleTTL = 2 * time.Minute
	// DefaultParentBatchSize bounds how many parent lookups run back to back.
	DefaultParentBatchSize = 5
	// DefaultParentBatchDelay spaces consecutive parent batches.
	DefaultParentBatchDelay = 100 * time.Millisecond
	// overFetchFactor widens the page size when replies are filtered out, so
	// reply-heavy histories still fill a page with acceptable posts.
	overFetchFactor = 2
	// refreshTimeout bounds a background stale-refresh.
	refreshTimeout = 30 * time.Second
)

// Config configures an Aggregator.
type Config struct {
	// BundleTTL is the cache freshness window for assembled bundles.
	BundleTTL time.Duration
	// ParentBatchSize and ParentBatchDelay tune batch-mode parent enrichment.
	ParentBatchSize  int
	ParentBatchDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.BundleTTL <= 0 {
		c.BundleTTL = DefaultBundleTTL
	}
	if c.ParentBatchSize <= 0 {
		c.ParentBatchSize = DefaultParentBatchSize
	}
	if c.ParentBatchDelay <= 0 {
		c.ParentBatchDelay = DefaultParentBatchDelay
	}
}

// Item is one unit of streamed output: exactly one of Profile, Post, or Err
// is set. Err is terminal; the channel closes after it.
type Item struct {
	Profile *models.Profile
	Post    *models.Post
	Err     error
}

// Aggregator assembles bundles for identities.
type Aggregator struct {
	config    Config
	client    *hub.Client
	cache     *cache.Cache
	reactions *coalesce.Batcher[int]
	parents   *coalesce.Batcher[*models.Post]
	logger    logger.Logger
	metrics   *metrics.Metrics
}

// New creates an Aggregator sharing the given cache and batchers.
func New(cfg Config, client *hub.Client, c *cache.Cache,
	reactions *coalesce.Batcher[int], parents *coalesce.Batcher[*models.Post],
	log logger.Logger, m *metrics.Metrics) *Aggregator {
	cfg.applyDefaults()
	return &Aggregator{
		config:    cfg,
		client:    client,
		cache:     c,
		reactions: reactions,
		parents:   parents,
		logger:    log,
		metrics:   m,
	}
}

// Aggregate assembles the bundle for fid under opts. Cached bundles are served
// while fresh; a stale bundle is served immediately and refreshed out of band.
func (a *Aggregator) Aggregate(ctx context.Context, fid uint64, opts models.FetchOptions) (*models.Bundle, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	key := bundleKey(fid, opts)
	if !opts.NoCache {
		if payload, stale, ok := a.cache.Get(key); ok {
			var bundle models.Bundle
			if err := json.Unmarshal(payload, &bundle); err == nil {
				a.observeCacheHit(stale)
				if stale {
					go a.refresh(fid, opts, key)
				}
				return &bundle, nil
			}
		}
		if a.metrics != nil {
			a.metrics.CacheMisses.Inc()
		}
	}

	bundle, err := a.build(ctx, fid, opts)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(bundle); err == nil {
		a.cache.Set(key, payload, a.config.BundleTTL)
	}
	return bundle, nil
}

// Stream assembles the bundle for fid incrementally: the profile first, then
// posts in pagination order, each enriched before emission. The channel is
// buffered one unit and closes when the history is exhausted, a fatal error is
// emitted, or ctx is cancelled.
func (a *Aggregator) Stream(ctx context.Context, fid uint64, opts models.FetchOptions) <-chan Item {
	out := make(chan Item, 1)

	go func() {
		defer close(out)
		if a.metrics != nil {
			a.metrics.StreamsStarted.Inc()
		}

		if err := opts.Normalize(); err != nil {
			a.emit(ctx, out, Item{Err: err})
			return
		}

		profile, err := a.fetchProfile(ctx, fid)
		if err != nil {
			a.abortStream(ctx, out, err)
			return
		}
		if !a.emit(ctx, out, Item{Profile: profile}) {
			return
		}

		err = a.walkPosts(ctx, fid, opts, func(post *models.Post) bool {
			post.AuthorHandle = profile.Handle
			a.enrichPost(ctx, post, opts)
			return a.emit(ctx, out, Item{Post: post})
		})
		if err != nil {
			a.abortStream(ctx, out, err)
		}
	}()

	return out
}

// build assembles a bundle from scratch: profile, paginated posts, then
// enrichment over the accepted set.
func (a *Aggregator) build(ctx context.Context, fid uint64, opts models.FetchOptions) (*models.Bundle, error) {
	profile, err := a.fetchProfile(ctx, fid)
	if err != nil {
		return nil, err
	}

	var posts []*models.Post
	err = a.walkPosts(ctx, fid, opts, func(post *models.Post) bool {
		post.AuthorHandle = profile.Handle
		posts = append(posts, post)
		return true
	})
	if err != nil {
		return nil, err
	}

	if opts.IncludeReactions {
		if err := a.enrichReactions(ctx, posts); err != nil {
			return nil, err
		}
	}
	if opts.IncludeParents {
		if err := a.enrichParents(ctx, posts); err != nil {
			return nil, err
		}
	}

	a.logger.Info("bundle assembled",
		logger.Uint64("fid", fid),
		logger.Int("posts", len(posts)),
		logger.Bool("all", opts.All),
	)
	return &models.Bundle{Profile: profile, Posts: posts}, nil
}

// fetchProfile merges the identity's profile attribute records. Later records
// in envelope order overwrite earlier values per field; record timestamps play
// no part in the merge.
func (a *Aggregator) fetchProfile(ctx context.Context, fid uint64) (*models.Profile, error) {
	env, err := a.client.ProfileDataByIdentity(ctx, fid)
	if err != nil {
		return nil, fmt.Errorf("fetching profile data: %w", err)
	}

	profile := &models.Profile{Fid: fid}
	crossRefs := make(map[string]string)

	for i := range env.Messages {
		data := env.Messages[i].Data
		if data == nil || data.Type != hub.TypeProfileField || data.UserDataBody == nil {
			continue
		}
		value := data.UserDataBody.Value

		switch data.UserDataBody.Type {
		case hub.FieldHandle:
			profile.Handle = value
		case hub.FieldDisplayName:
			profile.DisplayName = value
		case hub.FieldBio:
			profile.Bio = value
		case hub.FieldAvatar:
			profile.AvatarURL = value
		case hub.FieldHomepage:
			profile.HomepageURL = value
		case hub.FieldLocation:
			profile.Location = value
		case hub.FieldTwitter:
			crossRefs["twitter"] = value
		case hub.FieldGithub:
			crossRefs["github"] = value
		}
	}

	// Stable cross-ref order regardless of record order.
	for _, network := range []string{"github", "twitter"} {
		if handle, ok := crossRefs[network]; ok && handle != "" {
			profile.CrossRefs = append(profile.CrossRefs, models.CrossReference{
				Network: network,
				Handle:  handle,
			})
		}
	}

	return profile, nil
}

// walkPosts pages through the identity's history in the requested direction,
// invoking yield for each accepted post in pagination order until the limit is
// met, the history ends, or yield returns false. Cancellation is observed per
// page and per post.
func (a *Aggregator) walkPosts(ctx context.Context, fid uint64, opts models.FetchOptions, yield func(*models.Post) bool) error {
	pageSize := a.client.PageSize()
	if !opts.IncludeReplies {
		pageSize *= overFetchFactor
	}
	reverse := opts.SortOrder == models.SortNewest

	accepted := 0
	token := ""

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		env, err := a.client.PostsByIdentity(ctx, fid, pageSize, reverse, token)
		if err != nil {
			return fmt.Errorf("fetching posts page: %w", err)
		}

		for i := range env.Messages {
			if err := ctx.Err(); err != nil {
				return err
			}

			post, ok := env.Messages[i].ToPost()
			if !ok {
				a.logger.Debug("discarding malformed post record",
					logger.Uint64("fid", fid),
					logger.String("hash", env.Messages[i].Hash),
				)
				continue
			}
			if !opts.IncludeReplies && post.IsReply() {
				continue
			}

			if !yield(post) {
				return nil
			}
			accepted++
			if !opts.All && accepted >= opts.Limit {
				return nil
			}
		}

		token = env.NextPageToken
		if token == "" {
			return nil
		}
	}
}

// enrichPost fills one post's reaction tally and parent in stream mode.
func (a *Aggregator) enrichPost(ctx context.Context, post *models.Post, opts models.FetchOptions) {
	if opts.IncludeReactions && ctx.Err() == nil {
		post.Reactions = a.reactionTally(ctx, models.PostRef{Fid: post.AuthorFid, Hash: post.Hash})
	}
	if opts.IncludeParents && post.Parent != nil && ctx.Err() == nil {
		post.ParentPost = a.lookupParent(ctx, *post.Parent)
	}
}

// enrichReactions fills reaction tallies for every post. Lookup failures leave
// the tally at zero; only cancellation is fatal.
func (a *Aggregator) enrichReactions(ctx context.Context, posts []*models.Post) error {
	for _, post := range posts {
		if err := ctx.Err(); err != nil {
			return err
		}
		post.Reactions = a.reactionTally(ctx, models.PostRef{Fid: post.AuthorFid, Hash: post.Hash})
	}
	return nil
}

// reactionTally fetches like and recast counts concurrently through the
// batcher. Either failure defaults that count to zero.
func (a *Aggregator) reactionTally(ctx context.Context, ref models.PostRef) models.ReactionTally {
	type result struct {
		kind  string
		count int
		err   error
	}
	results := make(chan result, 2)

	for _, kind := range []string{hub.ReactionLike, hub.ReactionRecast} {
		go func(kind string) {
			key := fmt.Sprintf("reactions:%s:%d:%s", kind, ref.Fid, ref.Hash)
			count, err := a.reactions.Do(ctx, key, func(lookupCtx context.Context) (int, error) {
				return a.client.ReactionCount(lookupCtx, ref, kind)
			})
			results <- result{kind: kind, count: count, err: err}
		}(kind)
	}

	var tally models.ReactionTally
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			a.logger.Debug("reaction lookup failed, defaulting to zero",
				logger.String("kind", r.kind),
				logger.String("hash", ref.Hash),
				logger.Error(r.err),
			)
			continue
		}
		switch r.kind {
		case hub.ReactionLike:
			tally.Likes = r.count
		case hub.ReactionRecast:
			tally.Recasts = r.count
		}
	}
	return tally
}

// enrichParents resolves distinct parent refs in small fixed-size batches with
// an inter-batch delay, then attaches each resolved parent to its replies.
// Unresolved parents stay absent; only cancellation is fatal.
func (a *Aggregator) enrichParents(ctx context.Context, posts []*models.Post) error {
	var refs []models.PostRef
	seen := make(map[string]bool)
	for _, post := range posts {
		if post.Parent != nil && !seen[post.Parent.Hash] {
			seen[post.Parent.Hash] = true
			refs = append(refs, *post.Parent)
		}
	}
	if len(refs) == 0 {
		return nil
	}

	resolved := make(map[string]*models.Post, len(refs))
	for start := 0; start < len(refs); start += a.config.ParentBatchSize {
		if start > 0 {
			timer := time.NewTimer(a.config.ParentBatchDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		end := min(start+a.config.ParentBatchSize, len(refs))
		for _, ref := range refs[start:end] {
			if err := ctx.Err(); err != nil {
				return err
			}
			if parent := a.lookupParent(ctx, ref); parent != nil {
				resolved[ref.Hash] = parent
			}
		}
	}

	for _, post := range posts {
		if post.Parent != nil {
			post.ParentPost = resolved[post.Parent.Hash]
		}
	}
	return nil
}

// lookupParent fetches one parent post through the batcher. Any failure
// yields nil; the reply renders without its parent.
func (a *Aggregator) lookupParent(ctx context.Context, ref models.PostRef) *models.Post {
	key := "post:" + ref.Hash
	parent, err := a.parents.Do(ctx, key, func(lookupCtx context.Context) (*models.Post, error) {
		msg, err := a.client.PostByID(lookupCtx, ref)
		if err != nil {
			return nil, err
		}
		post, ok := msg.ToPost()
		if !ok {
			return nil, fmt.Errorf("parent record %s is not a well-formed post", ref.Hash)
		}
		return post, nil
	})
	if err != nil {
		a.logger.Debug("parent lookup failed, leaving absent",
			logger.String("hash", ref.Hash),
			logger.Error(err),
		)
		return nil
	}
	return parent
}

// refresh rebuilds a stale bundle out of band, detached from the request that
// observed the staleness.
func (a *Aggregator) refresh(fid uint64, opts models.FetchOptions, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	bundle, err := a.build(ctx, fid, opts)
	if err != nil {
		a.logger.Warn("stale bundle refresh failed",
			logger.Uint64("fid", fid),
			logger.Error(err),
		)
		return
	}
	if payload, err := json.Marshal(bundle); err == nil {
		a.cache.Set(key, payload, a.config.BundleTTL)
	}
}

// emit delivers one item, giving up when the consumer's context ends.
func (a *Aggregator) emit(ctx context.Context, out chan<- Item, item Item) bool {
	select {
	case out <- item:
		return true
	case <-ctx.Done():
		if a.metrics != nil {
			a.metrics.StreamsAborted.Inc()
		}
		return false
	}
}

// abortStream reports a fatal streaming failure as the final item.
func (a *Aggregator) abortStream(ctx context.Context, out chan<- Item, err error) {
	if a.metrics != nil {
		a.metrics.StreamsAborted.Inc()
	}
	a.emit(ctx, out, Item{Err: err})
}

// bundleKey derives the cache key from the identity and every option that
// shapes the result.
func bundleKey(fid uint64, opts models.FetchOptions) string {
	return fmt.Sprintf("bundle:%d:l%d:a%t:r%t:x%t:p%t:%s",
		fid, opts.Limit, opts.All, opts.IncludeReplies,
		opts.IncludeReactions, opts.IncludeParents, opts.SortOrder)
}

func (a *Aggregator) observeCacheHit(stale bool) {
	if a.metrics == nil {
		return
	}
	if stale {
		a.metrics.CacheHits.WithLabelValues("stale").Inc()
	} else {
		a.metrics.CacheHits.WithLabelValues("fresh").Inc()
	}
}
