package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"sentinel/internal/aggregator"
	"sentinel/internal/digest"
	"sentinel/internal/rank"
	"sentinel/internal/threat"
)

const (
	DefaultSampleLimit = 5
	DefaultDigestLimit = 10
	MaxLimit           = 100
)

// Collector is the aggregation surface the API needs.
type Collector interface {
	Collect(ctx context.Context) threat.Buckets
	Status() []aggregator.SourceStatus
}

type fetchNowResponse struct {
	Sources map[string]int  `json:"sources"`
	Total   int             `json:"total"`
	Sample  []threat.Record `json:"sample"`
}

type sourceStatus struct {
	Source     string `json:"source"`
	Entries    int    `json:"entries"`
	Records    int    `json:"records"`
	Skipped    int    `json:"skipped"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Router builds the gin engine. Token, when set, is required on every route
// except /healthz.
func Router(agg Collector, maxLen int, token string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := r.Group("/", bearerAuth(token))

	api.GET("/fetch-now", func(c *gin.Context) {
		limit, ok := queryLimit(c, DefaultSampleLimit)
		if !ok {
			return
		}
		b := agg.Collect(c.Request.Context())
		c.JSON(http.StatusOK, fetchNowResponse{
			Sources: b.Counts(),
			Total:   b.Total(),
			Sample:  rank.Merge(b, limit),
		})
	})

	api.GET("/digest", func(c *gin.Context) {
		limit, ok := queryLimit(c, DefaultDigestLimit)
		if !ok {
			return
		}
		tag := strings.TrimSpace(c.Query("tag"))
		recs := rank.Merge(agg.Collect(c.Request.Context()), limit)
		c.JSON(http.StatusOK, gin.H{"messages": digest.Formatter{MaxLen: maxLen}.Format(recs, tag)})
	})

	api.GET("/sources", func(c *gin.Context) {
		st := agg.Status()
		out := make([]sourceStatus, 0, len(st))
		for _, s := range st {
			item := sourceStatus{
				Source:     s.Source.Tag(),
				Entries:    s.Entries,
				Records:    s.Records,
				Skipped:    s.Skipped,
				DurationMS: s.Duration.Milliseconds(),
			}
			if s.Err != nil {
				item.Error = s.Err.Error()
			}
			out = append(out, item)
		}
		c.JSON(http.StatusOK, gin.H{"sources": out})
	})

	return r
}

func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return 0, false
	}
	if n > MaxLimit {
		n = MaxLimit
	}
	return n, true
}

// bearerAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
func bearerAuth(token string) gin.HandlerFunc {
	tok := strings.TrimSpace(token)
	return func(c *gin.Context) {
		if tok == "" {
			c.Next()
			return
		}
		if got := c.Query("token"); got != "" && got == tok {
			c.Next()
			return
		}
		const p = "Bearer "
		if ah := c.GetHeader("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			c.Next()
			return
		}
		c.Header("WWW-Authenticate", "Bearer")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}
