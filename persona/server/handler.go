// Package server exposes the four PersonaScope pages as a JSON API over gin. Each
// browser session is identified by a cookie and owns one persona.SessionState.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/personascope/persona"
)

const (
	SessionCookie = "personascope_session"

	sessionKey = "personascope.session"

	DefaultRequestTimeout = 2 * time.Minute
	DefaultMaxUploadBytes = 10 << 20
)

type Options struct {
	Derive         persona.DeriveOptions
	RequestTimeout time.Duration
	MaxUploadBytes int64
	SecureCookie   bool
	CookieMaxAge   time.Duration
}

type Handler struct {
	analyzer *persona.Analyzer
	registry *Registry
	logger   *zap.Logger
	opts     Options
}

func NewHandler(analyzer *persona.Analyzer, registry *Registry, logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{analyzer: analyzer, registry: registry, logger: logger, opts: opts}
}

// NewRouter builds a gin engine with recovery, request logging and h's routes.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(h.logger))
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.sessionMiddleware)
	{
		api.GET("/session", h.GetSession)
		api.GET("/pages/:page", h.GetPage)

		// Home
		api.POST("/upload", h.Upload)

		// Gated pages
		api.GET("/dataset", h.GetDataset)
		api.GET("/personality", h.GetPersonality)
		api.GET("/topics", h.GetTopics)
		api.POST("/react", h.React)
	}

	r.GET("/health", h.HealthCheck)
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (h *Handler) sessionMiddleware(c *gin.Context) {
	id, _ := c.Cookie(SessionCookie)
	s := h.registry.Acquire(id)
	if s.ID != id {
		maxAge := int(h.opts.CookieMaxAge / time.Second)
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(SessionCookie, s.ID, maxAge, "/", "", h.opts.SecureCookie, true)
	}
	c.Set(sessionKey, s)
	c.Next()
}

func sessionFrom(c *gin.Context) *Session {
	return c.MustGet(sessionKey).(*Session)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.registry.Len(),
	})
}

func (h *Handler) GetSession(c *gin.Context) {
	s := sessionFrom(c)
	st := s.State()

	pages := make(map[persona.Page]bool, len(persona.Pages))
	for _, p := range persona.Pages {
		pages[p] = st.Require(p) == nil
	}
	rows := 0
	if ds, ok := st.Dataset(); ok {
		rows = ds.Len()
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": s.ID,
		"stage":      st.Stage(),
		"generation": st.Generation(),
		"rows":       rows,
		"pages":      pages,
	})
}

// GetPage answers whether a page can be shown, with the blocking prompt if not.
func (h *Handler) GetPage(c *gin.Context) {
	page, err := persona.ParsePage(c.Param("page"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_page", "message": err.Error()})
		return
	}
	if err := sessionFrom(c).State().Require(page); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"page": page, "available": true})
}

// Upload accepts a multipart "file" field or a raw CSV body and runs the full
// analysis. The session keeps its previous analysis on any failure.
func (h *Handler) Upload(c *gin.Context) {
	body, name, err := h.uploadBody(c)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	defer body.Close()

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.RequestTimeout)
	defer cancel()

	s := sessionFrom(c)
	var analysis persona.Analysis
	s.Do(func(prior persona.SessionState) persona.SessionState {
		var next persona.SessionState
		next, analysis, err = persona.Ingest(ctx, h.analyzer, prior, body, h.opts.Derive)
		return next
	})
	if err != nil {
		h.logger.Warn("upload failed", zap.String("session", s.ID), zap.String("file", name), zap.Error(err))
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":         "Analysis complete!",
		"generation":      analysis.Generation,
		"rows":            analysis.Dataset.Len(),
		"stats":           analysis.Dataset.Stats(),
		"ignored_columns": analysis.Dataset.IgnoredColumns,
		"excluded_rows":   analysis.Dataset.ExcludedRows,
		"traits":          len(analysis.Profile.Traits),
		"topics":          len(analysis.Topics),
	})
}

func (h *Handler) uploadBody(c *gin.Context) (io.ReadCloser, string, error) {
	limit := h.opts.MaxUploadBytes
	if c.Request.ContentLength > limit {
		return nil, "", &http.MaxBytesError{Limit: limit}
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", errors.New(`multipart upload needs a "file" field`)
		}
		if err != nil {
			return nil, "", fmt.Errorf("read multipart upload: %w", err)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, "", err
		}
		return f, fh.Filename, nil
	}
	if c.Request.ContentLength == 0 {
		return nil, "", errors.New("empty request body")
	}
	return c.Request.Body, "", nil
}

func (h *Handler) GetDataset(c *gin.Context) {
	st := sessionFrom(c).State()
	// Rows carry derived engagement, so they share the personality page's gate.
	if err := st.Require(persona.PagePersonality); err != nil {
		h.writeError(c, err)
		return
	}
	ds, _ := st.Dataset()
	c.JSON(http.StatusOK, gin.H{
		"generation":      st.Generation(),
		"columns":         append(append([]string(nil), persona.RequiredColumns...), persona.ColumnEngagement),
		"ignored_columns": ds.IgnoredColumns,
		"rows":            ds.Posts,
		"stats":           ds.Stats(),
	})
}

func (h *Handler) GetPersonality(c *gin.Context) {
	st := sessionFrom(c).State()
	if err := st.Require(persona.PagePersonality); err != nil {
		h.writeError(c, err)
		return
	}
	p, _ := st.Profile()
	c.JSON(http.StatusOK, gin.H{
		"generation":          p.Generation,
		"traits":              p.Traits,
		"traits_json":         p.Traits.Map(),
		"radar":               p.Traits.RadarPoints(),
		"personality_summary": p.Summary,
	})
}

func (h *Handler) GetTopics(c *gin.Context) {
	st := sessionFrom(c).State()
	if err := st.Require(persona.PageTopics); err != nil {
		h.writeError(c, err)
		return
	}
	topics, _ := st.Topics()
	c.JSON(http.StatusOK, gin.H{
		"generation": st.Generation(),
		"columns":    []string{"topic", "description", "sentiment", "example_post"},
		"topics":     topics,
	})
}

type reactRequest struct {
	Content string `json:"content"`
}

func (h *Handler) React(c *gin.Context) {
	s := sessionFrom(c)
	if err := s.State().Require(persona.PageReaction); err != nil {
		h.writeError(c, err)
		return
	}

	var req reactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.RequestTimeout)
	defer cancel()

	var (
		res persona.ReactionResult
		err error
	)
	s.Do(func(st persona.SessionState) persona.SessionState {
		res, err = st.ReactTo(ctx, h.analyzer, req.Content)
		return st
	})
	if err != nil {
		if !errors.Is(err, persona.ErrUploadRequired) {
			h.logger.Warn("reaction failed", zap.String("session", s.ID), zap.Error(err))
		}
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reaction_text":  res.Text,
		"reaction_score": res.Score,
		"progress":       res.Progress(),
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		ve  *persona.ValidationError
		ge  *persona.GateError
		mbe *http.MaxBytesError
	)
	switch {
	case errors.As(err, &mbe):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too_large", "message": err.Error()})
	case errors.As(err, &ge):
		c.JSON(http.StatusPreconditionRequired, gin.H{"error": "upload_required", "message": persona.UploadPrompt, "page": ge.Page})
	case errors.Is(err, persona.ErrUploadRequired):
		c.JSON(http.StatusPreconditionRequired, gin.H{"error": "upload_required", "message": persona.UploadPrompt})
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error(), "missing": ve.Missing, "row": ve.Row, "column": ve.Column})
	case persona.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
	case errors.Is(err, persona.ErrEmptyContent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_content", "message": err.Error()})
	case persona.IsInference(err):
		c.JSON(http.StatusBadGateway, gin.H{"error": "inference_error", "message": err.Error()})
	default:
		h.logger.Error("unexpected error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal error"})
	}
}
