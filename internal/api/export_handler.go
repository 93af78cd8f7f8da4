package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/castflow/internal/format"
	"github.com/jonesrussell/castflow/internal/logger"
	"github.com/jonesrussell/castflow/internal/models"
)

// export handles the retrieval entry point.
// GET /api/v1/export?fid=|username=&limit=&replies=&reactions=&parents=&all=&sort=&format=json|text
func (r *Router) export(c *gin.Context) {
	ctx := c.Request.Context()

	opts, err := parseOptions(c)
	if err != nil {
		writeError(c, err)
		return
	}

	fid, err := r.resolveIdentity(c, opts.NoCache)
	if err != nil {
		writeError(c, err)
		return
	}

	switch c.DefaultQuery("format", "json") {
	case "json":
		bundle, err := r.aggregator.Aggregate(ctx, fid, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, bundle)

	case "text":
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Header("Content-Disposition",
			fmt.Sprintf("attachment; filename=%s", format.Filename(fid)))
		c.Status(http.StatusOK)

		sw := &format.StreamWriter{
			Delay:  r.cfg.Export.StreamDelay,
			Logger: r.logger,
		}
		if err := sw.Write(ctx, c.Writer, r.aggregator.Stream(ctx, fid, opts)); err != nil {
			// Headers are committed; the error line is already in the body.
			r.logger.Warn("text export ended with error",
				logger.Uint64("fid", fid),
				logger.Error(err),
			)
		}

	default:
		writeError(c, fmt.Errorf("%w: format must be json or text", models.ErrValidation))
	}
}

// resolveIdentity determines the target identity from fid and/or username.
// Supplying both is allowed only when they agree.
func (r *Router) resolveIdentity(c *gin.Context, bypassCache bool) (uint64, error) {
	fidParam := c.Query("fid")
	username := c.Query("username")

	var fid uint64
	if fidParam != "" {
		parsed, err := strconv.ParseUint(fidParam, 10, 64)
		if err != nil || parsed == 0 {
			return 0, fmt.Errorf("%w: fid %q", models.ErrValidation, fidParam)
		}
		fid = parsed
	}

	if username == "" {
		if fid == 0 {
			return 0, fmt.Errorf("%w: fid or username is required", models.ErrValidation)
		}
		return fid, nil
	}

	resolved, err := r.resolver.Resolve(c.Request.Context(), username, bypassCache)
	if err != nil {
		return 0, err
	}
	if fid != 0 && fid != resolved {
		return 0, fmt.Errorf("%w: fid %d and username %q name different identities",
			models.ErrConflict, fid, username)
	}
	return resolved, nil
}

// parseOptions builds fetch options from query parameters.
func parseOptions(c *gin.Context) (models.FetchOptions, error) {
	opts := models.FetchOptions{
		IncludeReplies:   queryBool(c, "replies"),
		IncludeReactions: queryBool(c, "reactions"),
		IncludeParents:   queryBool(c, "parents"),
		All:              queryBool(c, "all"),
		NoCache:          queryBool(c, "no_cache"),
		SortOrder:        models.SortOrder(c.Query("sort")),
	}

	if limitParam := c.Query("limit"); limitParam != "" {
		limit, err := strconv.Atoi(limitParam)
		if err != nil {
			return opts, fmt.Errorf("%w: limit %q", models.ErrValidation, limitParam)
		}
		opts.Limit = limit
	}

	if err := opts.Normalize(); err != nil {
		return opts, err
	}
	return opts, nil
}

func queryBool(c *gin.Context, name string) bool {
	v := c.Query(name)
	return v == "true" || v == "1"
}

// writeError maps domain errors onto HTTP statuses with a human-readable
// message.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrConflict):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
