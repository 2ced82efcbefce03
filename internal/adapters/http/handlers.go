package httpadapter

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"svw.info/connections/internal/domain"
	"svw.info/connections/internal/usecase"
)

// MaxGenerate caps how many puzzles one HTTP request may ask for.
const MaxGenerate = 100

type Handler struct {
	UC  *usecase.Service
	log *zap.Logger
	now func() time.Time
}

func New(uc *usecase.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{UC: uc, log: log, now: time.Now}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.handleHealth)

	api := r.Group("/api")
	{
		api.GET("/puzzles", h.handleList)
		api.GET("/puzzles/:ordinal", h.handleGet)
		api.GET("/puzzles/date/:date", h.handleByDate)
		api.POST("/validate", h.handleValidate)
		api.POST("/generate", h.handleGenerate)
		api.GET("/pool/stats", h.handlePoolStats)
	}
}

type errorResp struct {
	Error string `json:"error"`
}

// status maps domain errors to HTTP codes.
func status(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRunLocked):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStructuralInvalid):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := status(err)
	if code == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, errorResp{Error: err.Error()})
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ---- Ledger ----

type listResp struct {
	Puzzles []domain.PuzzleMeta `json:"puzzles"`
}

func (h *Handler) handleList(c *gin.Context) {
	ps, err := h.UC.ListPuzzles(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, listResp{Puzzles: ps})
}

func (h *Handler) handleGet(c *gin.Context) {
	ordinal, err := strconv.Atoi(c.Param("ordinal"))
	if err != nil || ordinal < 1 {
		c.JSON(http.StatusBadRequest, errorResp{Error: "ordinal must be a positive integer"})
		return
	}
	p, err := h.UC.GetPuzzle(c.Request.Context(), ordinal)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) handleByDate(c *gin.Context) {
	raw := c.Param("date")
	var (
		d   time.Time
		err error
	)
	if raw == "today" {
		d = domain.CivilDate(h.now())
	} else if d, err = domain.ParseDate(raw); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "date must be YYYY-MM-DD"})
		return
	}
	p, err := h.UC.PuzzleForDate(c.Request.Context(), d)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ---- Validate ----

type validateReq struct {
	Groups []domain.Group `json:"groups"`
}

func (h *Handler) handleValidate(c *gin.Context) {
	var req validateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	res, err := h.UC.Validate(c.Request.Context(), req.Groups)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ---- Generate ----

type generateReq struct {
	Count      int    `json:"count" binding:"required,min=1"`
	Stage      bool   `json:"stage"`
	DailyTheme string `json:"daily_theme" binding:"max=200"`
}

type generateResp struct {
	*usecase.Report
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

func (h *Handler) handleGenerate(c *gin.Context) {
	var req generateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid request: " + err.Error()})
		return
	}
	if req.Count > MaxGenerate {
		c.JSON(http.StatusBadRequest, errorResp{Error: "count exceeds " + strconv.Itoa(MaxGenerate)})
		return
	}
	start := time.Now()
	rep, err := h.UC.Generate(c.Request.Context(), req.Count, usecase.GenerateOptions{Stage: req.Stage, DailyTheme: req.DailyTheme})
	if err != nil && rep == nil {
		h.fail(c, err)
		return
	}
	resp := generateResp{Report: rep, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		resp.Error = err.Error()
		h.log.Error("generation run aborted", zap.String("run", rep.RunID), zap.Error(err))
		c.JSON(status(err), resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ---- Pool ----

func (h *Handler) handlePoolStats(c *gin.Context) {
	stats, err := h.UC.PoolStats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tiers": stats})
}
