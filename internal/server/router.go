// Package server exposes the development backend: the agenda and
// notification REST surface plus the push channel the sync client dials.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/apiclient"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/auth"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/backend"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/errs"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/model"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/realtime"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/users"
	"go.uber.org/zap"
)

const (
	userIDContextKey   = "mhl_user_id"
	tenantIDContextKey = "mhl_tenant_id"
)

var (
	errMissingTokenIssuer    = errors.New("token issuer dependency required")
	errMissingValidator      = errors.New("session validator dependency required")
	errMissingUserResolver   = errors.New("user resolver dependency required")
	errMissingBackendService = errors.New("backend service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

type TokenIssuer interface {
	IssueSessionToken(ctx context.Context, identity auth.Identity) (string, int64, error)
}

type SessionValidator interface {
	ValidateToken(token string) (auth.SessionClaims, error)
}

type UserResolver interface {
	ResolveUserID(ctx context.Context, request users.ResolveRequest) (string, error)
}

type Dependencies struct {
	TokenIssuer      TokenIssuer
	SessionValidator SessionValidator
	Users            UserResolver
	Backend          *backend.Service
	// Realtime defaults to a fresh hub; pass one to close it on shutdown.
	Realtime          *RealtimeHub
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenIssuer == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.SessionValidator == nil {
		return nil, errMissingValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserResolver
	}
	if deps.Backend == nil {
		return nil, errMissingBackendService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := deps.Realtime
	if hub == nil {
		hub = NewRealtimeHub()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:            deps.TokenIssuer,
		sessions:          deps.SessionValidator,
		users:             deps.Users,
		backend:           deps.Backend,
		realtime:          hub,
		heartbeatInterval: heartbeat,
		logger:            logger,
	}

	router.POST("/auth/dev-token", handler.handleDevToken)
	router.GET("/ws", handler.handleSocket)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.GET("/agenda", handler.handleListEvents)
	protected.POST("/agenda", handler.handleCreateEvent)
	protected.PUT("/agenda/:id", handler.handleUpdateEvent)
	protected.DELETE("/agenda/:id", handler.handleDeleteEvent)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.POST("/notifications", handler.handleCreateNotification)
	protected.PUT("/notifications/read-all", handler.handleMarkAllRead)
	protected.PUT("/notifications/:id/read", handler.handleMarkRead)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: func(string) bool { return true },
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:     []string{"Authorization", "Content-Type", apiclient.TenantHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	tokens            TokenIssuer
	sessions          SessionValidator
	users             UserResolver
	backend           *backend.Service
	realtime          *RealtimeHub
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

type devTokenRequestPayload struct {
	TenantID    string `json:"tenant_id"`
	Login       string `json:"login"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type devTokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
}

func (h *httpHandler) handleDevToken(c *gin.Context) {
	var request devTokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.TenantID) == "" || strings.TrimSpace(request.Login) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	tenantID := strings.TrimSpace(request.TenantID)

	userID, err := h.users.ResolveUserID(c.Request.Context(), users.ResolveRequest{
		TenantID:        tenantID,
		Login:           request.Login,
		PreferredUserID: request.UserID,
		DisplayName:     request.DisplayName,
	})
	if err != nil {
		if errors.Is(err, users.ErrInvalidIdentity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		h.logger.Error("failed to resolve user identity", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), auth.Identity{
		UserID:   userID,
		TenantID: tenantID,
		Email:    strings.TrimSpace(request.Login),
	})
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, devTokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		UserID:      userID,
	})
}

func (h *httpHandler) handleListEvents(c *gin.Context) {
	events, err := h.backend.ListEvents(c.Request.Context(), c.GetString(tenantIDContextKey))
	if err != nil {
		h.respondError(c, "list agenda failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events})
}

func (h *httpHandler) handleCreateEvent(c *gin.Context) {
	var draft model.EventDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	tenantID := c.GetString(tenantIDContextKey)
	created, err := h.backend.CreateEvent(c.Request.Context(), tenantID, draft)
	if err != nil {
		h.respondError(c, "create agenda event failed", err)
		return
	}
	h.publishAgendaUpdated(tenantID)
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleUpdateEvent(c *gin.Context) {
	var draft model.EventDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	tenantID := c.GetString(tenantIDContextKey)
	updated, err := h.backend.UpdateEvent(c.Request.Context(), tenantID, model.ID(c.Param("id")), draft)
	if err != nil {
		h.respondError(c, "update agenda event failed", err)
		return
	}
	h.publishAgendaUpdated(tenantID)
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleDeleteEvent(c *gin.Context) {
	tenantID := c.GetString(tenantIDContextKey)
	if err := h.backend.DeleteEvent(c.Request.Context(), tenantID, model.ID(c.Param("id"))); err != nil {
		h.respondError(c, "delete agenda event failed", err)
		return
	}
	h.publishAgendaUpdated(tenantID)
	c.Status(http.StatusNoContent)
}

type notificationPageResponse struct {
	Data  []model.NotificationPayload `json:"data"`
	Page  int                         `json:"page"`
	Limit int                         `json:"limit"`
	Total int64                       `json:"total"`
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	page, err := queryInt(c, "page")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "field": "page"})
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "field": "limit"})
		return
	}
	result, err := h.backend.ListNotifications(c.Request.Context(), c.GetString(tenantIDContextKey), c.GetString(userIDContextKey), page, limit)
	if err != nil {
		h.respondError(c, "list notifications failed", err)
		return
	}
	c.JSON(http.StatusOK, notificationPageResponse{
		Data:  result.Items,
		Page:  result.Page,
		Limit: result.Limit,
		Total: result.Total,
	})
}

type createNotificationPayload struct {
	RecipientID model.ID `json:"recipientId"`
	Title       string   `json:"title"`
	Message     string   `json:"message"`
	Type        string   `json:"type"`
	Category    string   `json:"category"`
	ReferenceID model.ID `json:"referenceId"`
}

// handleCreateNotification stores the notification and pushes it to every
// socket of the tenant.
func (h *httpHandler) handleCreateNotification(c *gin.Context) {
	var request createNotificationPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "field": "message"})
		return
	}
	tenantID := c.GetString(tenantIDContextKey)
	created, err := h.backend.CreateNotification(c.Request.Context(), tenantID, backend.NotificationInput{
		RecipientID: request.RecipientID.String(),
		Title:       request.Title,
		Message:     request.Message,
		Severity:    request.Type,
		Category:    request.Category,
		ReferenceID: request.ReferenceID.String(),
	})
	if err != nil {
		h.respondError(c, "create notification failed", err)
		return
	}
	h.realtime.Publish(RealtimeMessage{TenantID: tenantID, Event: realtime.EventNotification, Data: created})
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	err := h.backend.MarkNotificationRead(c.Request.Context(), c.GetString(tenantIDContextKey), c.GetString(userIDContextKey), model.ID(c.Param("id")))
	if err != nil {
		h.respondError(c, "mark notification read failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleMarkAllRead(c *gin.Context) {
	if err := h.backend.MarkAllNotificationsRead(c.Request.Context(), c.GetString(tenantIDContextKey), c.GetString(userIDContextKey)); err != nil {
		h.respondError(c, "mark all notifications read failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.sessions.ValidateToken(token)
	if err != nil {
		h.logTokenFailure(err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if tenantID := requestTenant(c); tenantID == "" || tenantID != claims.TenantID {
		h.logger.Info("tenant mismatch", zap.String("header_tenant", tenantID), zap.String("token_tenant", claims.TenantID))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid_tenant"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Set(tenantIDContextKey, claims.TenantID)
	c.Next()
}

func (h *httpHandler) logTokenFailure(err error) {
	if errors.Is(err, auth.ErrExpiredSessionToken) {
		h.logger.Info("token validation failed", zap.Error(err))
		return
	}
	h.logger.Warn("token validation failed", zap.Error(err))
}

func (h *httpHandler) publishAgendaUpdated(tenantID string) {
	h.realtime.Publish(RealtimeMessage{TenantID: tenantID, Event: realtime.EventAgendaUpdated})
}

func (h *httpHandler) respondError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		body := gin.H{"error": "invalid_request"}
		var validation *errs.ValidationError
		if errors.As(err, &validation) {
			body["field"] = validation.Field
		}
		c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, backend.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	default:
		h.logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}

func requestTenant(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(apiclient.TenantHeader))
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
