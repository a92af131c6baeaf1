// Package server exposes a read-only status API over the import ledger.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/wpsync/internal/auth"
	"github.com/MarcoPoloResearchLab/wpsync/internal/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

var (
	errMissingLedger        = errors.New("ledger dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// StatusLedger is the read side of the ledger the API serves.
type StatusLedger interface {
	ListSiteProfiles(ctx context.Context) ([]ledger.SiteProfile, error)
	ImportStatistics(ctx context.Context, siteID *int64) (map[ledger.Status]int64, error)
	RecentLogs(ctx context.Context, limit int) ([]ledger.OperationLogEntry, error)
}

// TokenValidator checks the operator bearer token carried by a request and returns its subject.
type TokenValidator interface {
	ValidateRequest(r *http.Request) (string, error)
}

type Dependencies struct {
	Ledger       StatusLedger
	TokenManager TokenValidator
	Logger       *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Ledger == nil {
		return nil, errMissingLedger
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		ledger: deps.Ledger,
		tokens: deps.TokenManager,
		logger: logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/sites", handler.handleSites)
	protected.GET("/stats", handler.handleStats)
	protected.GET("/logs", handler.handleLogs)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	ledger StatusLedger
	tokens TokenValidator
	logger *zap.Logger
}

type sitesResponsePayload struct {
	Sites []ledger.SiteProfile `json:"sites"`
}

func (h *httpHandler) handleSites(c *gin.Context) {
	sites, err := h.ledger.ListSiteProfiles(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list site profiles", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger_unavailable"})
		return
	}
	if sites == nil {
		sites = []ledger.SiteProfile{}
	}
	c.JSON(http.StatusOK, sitesResponsePayload{Sites: sites})
}

type statsResponsePayload struct {
	SiteID *int64           `json:"site_id,omitempty"`
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"total"`
}

func (h *httpHandler) handleStats(c *gin.Context) {
	var siteID *int64
	if raw := strings.TrimSpace(c.Query("site_id")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_site_id"})
			return
		}
		siteID = &parsed
	}

	stats, err := h.ledger.ImportStatistics(c.Request.Context(), siteID)
	if err != nil {
		h.logger.Error("failed to compute import statistics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger_unavailable"})
		return
	}

	response := statsResponsePayload{SiteID: siteID, Counts: make(map[string]int64, len(stats))}
	for status, count := range stats {
		response.Counts[string(status)] = count
		response.Total += count
	}
	c.JSON(http.StatusOK, response)
}

type logsResponsePayload struct {
	Entries []ledger.OperationLogEntry `json:"entries"`
}

func (h *httpHandler) handleLogs(c *gin.Context) {
	limit := defaultLogLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = min(parsed, maxLogLimit)
	}

	entries, err := h.ledger.RecentLogs(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to read operation log", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger_unavailable"})
		return
	}
	if entries == nil {
		entries = []ledger.OperationLogEntry{}
	}
	c.JSON(http.StatusOK, logsResponsePayload{Entries: entries})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	subject, err := h.tokens.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingToken):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
			return
		case errors.Is(err, auth.ErrExpiredToken):
			h.logger.Info("token validation failed", zap.Error(err))
		default:
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Next()
	h.logger.Debug("status request served",
		zap.String("operator", subject),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()))
}
