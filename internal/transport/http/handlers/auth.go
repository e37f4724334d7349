package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/arklim/marketplace-auth/internal/core/domain"
	"github.com/arklim/marketplace-auth/internal/transport/http/middleware"
	"github.com/arklim/marketplace-auth/internal/usecase"
)

// Authenticator is the session core consumed by the HTTP layer.
type Authenticator interface {
	Login(ctx context.Context, in usecase.LoginInput) (*usecase.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error)
	Logout(ctx context.Context, accessToken string, accessClaims *domain.SessionClaims, refreshToken string) error
	ValidateAccessToken(ctx context.Context, token string) (*domain.SessionClaims, error)
}

// AuthRouteMiddlewares are applied ahead of the matching handlers.
type AuthRouteMiddlewares struct {
	Login     []gin.HandlerFunc
	Refresh   []gin.HandlerFunc
	Protected []gin.HandlerFunc
	Optional  []gin.HandlerFunc
}

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	auth Authenticator
	now  func() time.Time
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth Authenticator) *AuthHandler {
	return &AuthHandler{
		auth: auth,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes binds authentication routes, applying middleware ahead of handlers.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, mw AuthRouteMiddlewares) {
	r.POST("/login", chain(mw.Login, h.login)...)
	r.POST("/refresh", chain(mw.Refresh, h.refresh)...)
	r.POST("/logout", chain(mw.Protected, h.logout)...)
	r.GET("/me", chain(mw.Protected, h.me)...)
	r.GET("/session", chain(mw.Optional, h.session)...)
}

func chain(mw []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(mw)+1)
	out = append(out, mw...)
	return append(out, handler)
}

// Login godoc
// @Summary Authenticate with email and password
// @Description Verifies credentials in constant time and returns an access/refresh token pair.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} APIResponse{data=TokenResponse}
// @Failure 400 {object} APIResponse
// @Failure 401 {object} APIResponse
// @Failure 429 {object} APIResponse
// @Failure 503 {object} APIResponse
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	// The rate limit middleware already read the body, so bind from the cached copy.
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, middleware.CodeValidation, "invalid login payload"))
		return
	}

	start := middleware.GetRequestStart(c)
	if start.IsZero() {
		start = time.Now()
	}

	result, err := h.auth.Login(c.Request.Context(), usecase.LoginInput{
		Email:        strings.TrimSpace(req.Email),
		Password:     req.Password,
		ClientIP:     c.ClientIP(),
		RequestStart: start,
	})
	if err != nil {
		RespondWithError(c, err)
		return
	}

	resp := newTokenResponse(result.Tokens, h.now())
	user := newUserSummary(result.User)
	resp.User = &user

	c.JSON(http.StatusOK, NewSuccessResponse(c, "authenticated", resp))
}

// Refresh godoc
// @Summary Rotate a refresh token
// @Description Consumes the refresh token once and issues a new token pair.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh request"
// @Success 200 {object} APIResponse{data=TokenResponse}
// @Failure 400 {object} APIResponse
// @Failure 401 {object} APIResponse
// @Failure 429 {object} APIResponse
// @Failure 503 {object} APIResponse
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, middleware.CodeValidation, "refreshToken is required"))
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewSuccessResponse(c, "token refreshed", newTokenResponse(pair, h.now())))
}

// Logout godoc
// @Summary Revoke the current tokens
// @Description Revokes the presented access token and, when supplied, the caller's refresh token.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LogoutRequest false "Logout request"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Failure 401 {object} APIResponse
// @Failure 503 {object} APIResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) logout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, middleware.CodeAuthRequired, "authentication required"))
		return
	}

	var req LogoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, middleware.CodeValidation, "invalid logout payload"))
			return
		}
	}

	err := h.auth.Logout(c.Request.Context(), middleware.GetAccessToken(c), claims, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewSuccessResponse(c, "logged out", nil))
}

// Me godoc
// @Summary Current identity
// @Tags Authentication
// @Produce json
// @Success 200 {object} APIResponse{data=IdentityPayload}
// @Failure 401 {object} APIResponse
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) me(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, middleware.CodeAuthRequired, "authentication required"))
		return
	}

	c.JSON(http.StatusOK, NewSuccessResponse(c, fmt.Sprintf("authenticated as %s", identity.Role), newIdentityPayload(identity)))
}

// Session godoc
// @Summary Optional session lookup
// @Description Reports whether the request carries a valid access token without rejecting anonymous callers.
// @Tags Authentication
// @Produce json
// @Success 200 {object} APIResponse{data=SessionResponse}
// @Router /api/v1/auth/session [get]
func (h *AuthHandler) session(c *gin.Context) {
	resp := SessionResponse{}
	if identity, ok := middleware.GetIdentity(c); ok {
		payload := newIdentityPayload(identity)
		resp.Authenticated = true
		resp.Identity = &payload
	}

	c.JSON(http.StatusOK, NewSuccessResponse(c, "session resolved", resp))
}
