package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"picbed/api/internal/apperr"
	"picbed/api/internal/middleware"
	"picbed/api/internal/repository"
	"picbed/api/internal/security"
	"picbed/api/internal/service"
	"picbed/api/internal/token"
)

type createKeyRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	ExpiresAt   string `json:"expires_at"`
}

func (h HandlerSet) CreateAccessKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperr.Wrap(apperr.KindValidation, "invalid_request", "invalid request body", err))
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			h.respondError(c, apperr.New(apperr.KindValidation, "invalid_expiry", "expires_at must be RFC3339"))
			return
		}
		expiresAt = &parsed
	}

	result, err := h.authService.CreateKey(c.Request.Context(), service.CreateKeyInput{
		Name:        req.Name,
		Description: req.Description,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	// The plaintext secret appears in this response and nowhere else, ever.
	c.JSON(http.StatusOK, gin.H{
		"name":        result.Key.Name,
		"access_key":  result.Key.AccessKey,
		"secret_key":  result.SecretKey,
		"description": result.Key.Description,
		"expires_at":  result.Key.ExpiresAt,
		"created_at":  result.Key.CreatedAt,
	})
}

type accessKeyResponse struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	AccessKey   string     `json:"access_key"`
	Description string     `json:"description"`
	IsEnabled   bool       `json:"is_enabled"`
	ExpiresAt   *time.Time `json:"expires_at"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (h HandlerSet) ListAccessKeys(c *gin.Context) {
	filter := repository.AccessKeyFilter{
		Name:    c.Query("name"),
		OrderBy: c.DefaultQuery("orderBy", "created_at"),
		Order:   c.DefaultQuery("order", "desc"),
		Limit:   10,
	}

	if enabled := c.Query("enabled"); enabled != "" {
		v, err := strconv.ParseBool(enabled)
		if err != nil {
			h.respondError(c, apperr.New(apperr.KindValidation, "invalid_filter", "enabled must be a boolean"))
			return
		}
		filter.IsEnabled = &v
	}
	if perPage := c.Query("perPage"); perPage != "" {
		if v, err := strconv.Atoi(perPage); err == nil && v > 0 && v <= 100 {
			filter.Limit = v
		}
	}
	if page := c.Query("page"); page != "" {
		if v, err := strconv.Atoi(page); err == nil && v > 1 {
			filter.Offset = (v - 1) * filter.Limit
		}
	}

	keys, total, err := h.authService.ListKeys(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}

	items := make([]accessKeyResponse, 0, len(keys))
	for _, key := range keys {
		items = append(items, accessKeyResponse{
			ID:          key.ID,
			Name:        key.Name,
			AccessKey:   key.AccessKey,
			Description: key.Description,
			IsEnabled:   key.IsEnabled,
			ExpiresAt:   key.ExpiresAt,
			LastUsedAt:  key.LastUsedAt,
			CreatedAt:   key.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"total": total,
		"items": items,
	})
}

type issueTokenRequest struct {
	AccessKey string `json:"access_key" binding:"required"`
	SecretKey string `json:"secret_key" binding:"required"`
}

func (h HandlerSet) IssueToken(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperr.Wrap(apperr.KindValidation, "invalid_request", "invalid request body", err))
		return
	}

	pair, err := h.authService.IssueToken(c.Request.Context(), req.AccessKey, req.SecretKey)
	if err != nil {
		h.respondError(c, err)
		return
	}

	sendTokenPair(c, pair)
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h HandlerSet) RefreshToken(c *gin.Context) {
	var req refreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperr.Wrap(apperr.KindValidation, "invalid_request", "invalid request body", err))
		return
	}

	pair, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.respondError(c, err)
		return
	}

	sendTokenPair(c, pair)
}

func (h HandlerSet) RevokeTokens(c *gin.Context) {
	claimsVal, exists := c.Get(middleware.ClaimsKey)
	if !exists {
		h.respondError(c, apperr.New(apperr.KindUnauthorized, "missing_token", "authorization required"))
		return
	}
	claims, ok := claimsVal.(security.TokenClaims)
	if !ok {
		h.respondError(c, apperr.New(apperr.KindUnauthorized, "invalid_token", "token is invalid or expired"))
		return
	}

	if err := h.authService.Revoke(c.Request.Context(), claims.AccessKey); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "credentials revoked",
		"access_key": claims.AccessKey,
	})
}

func sendTokenPair(c *gin.Context, pair token.Pair) {
	c.JSON(http.StatusOK, gin.H{
		"access_token":       pair.AccessToken,
		"refresh_token":      pair.RefreshToken,
		"token_type":         "bearer",
		"expires_in":         int64(pair.AccessExpiresIn.Seconds()),
		"refresh_expires_in": int64(pair.RefreshExpiresIn.Seconds()),
	})
}
