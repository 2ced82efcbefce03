package httpadapter

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"svw.info/connections/internal/domain"
	"svw.info/connections/web"
)

// RequestLogger logs method, path, status, bytes and duration per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("dur", time.Since(start).Round(time.Millisecond)),
		)
	}
}

// NewRouter wires the API, the metrics endpoint and the archive page.
// A nil gatherer disables /metrics.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(h.log))

	r.SetHTMLTemplate(web.Templates())
	r.StaticFS("/static", web.StaticFS())
	r.GET("/", h.handleIndex)

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	h.Register(r)
	return r
}

type indexData struct {
	Date   string
	Puzzle *domain.Puzzle
	Recent []domain.PuzzleMeta
}

// handleIndex renders the puzzle for ?date= (default today) and the most
// recent ledger entries.
func (h *Handler) handleIndex(c *gin.Context) {
	d := domain.CivilDate(h.now())
	if raw := c.Query("date"); raw != "" {
		parsed, err := domain.ParseDate(raw)
		if err != nil {
			c.String(http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		d = parsed
	}
	data := indexData{Date: d.Format(domain.DateLayout)}

	p, err := h.UC.PuzzleForDate(c.Request.Context(), d)
	switch {
	case err == nil:
		data.Puzzle = p
	case !errors.Is(err, domain.ErrNotFound):
		h.fail(c, err)
		return
	}
	metas, err := h.UC.ListPuzzles(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(metas) > 10 {
		metas = metas[len(metas)-10:]
	}
	data.Recent = metas
	c.HTML(http.StatusOK, "index.tmpl", data)
}
