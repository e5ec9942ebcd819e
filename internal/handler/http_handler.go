package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/iolipix/JuriNapse-sub001/internal/domain"
	"github.com/iolipix/JuriNapse-sub001/internal/service"
	pkglog "github.com/iolipix/JuriNapse-sub001/pkg/log"
	"github.com/iolipix/JuriNapse-sub001/pkg/middleware"
	"github.com/iolipix/JuriNapse-sub001/pkg/response"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Handler handles HTTP requests for the social graph service.
type Handler struct {
	svc            service.SocialGraphService
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler.
func NewHandler(svc service.SocialGraphService, authMiddleware *middleware.AuthMiddleware) *Handler {
	return &Handler{
		svc:            svc,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes onto the Gin engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		users := api.Group("/users")
		{
			auth := h.authMiddleware.RequireAuth()

			users.POST("/:ref/follow", auth, h.Follow)
			users.DELETE("/:ref/follow", auth, h.Unfollow)
			users.GET("/:ref/follow", auth, h.IsFollowing)

			users.POST("/:ref/block", auth, h.Block)
			users.DELETE("/:ref/block", auth, h.Unblock)
			users.GET("/:ref/block", auth, h.IsBlocked)

			users.POST("/:ref/following/status", h.BatchIsFollowing)

			users.GET("/:ref/followers", h.GetFollowers)
			users.GET("/:ref/following", h.GetFollowing)
			users.GET("/:ref/connections", h.GetConnections)
			users.GET("/:ref/followers/count", h.GetFollowersCount)
			users.GET("/:ref/following/count", h.GetFollowingCount)
		}

		admin := api.Group("/admin/graph",
			h.authMiddleware.RequireAuth(),
			h.authMiddleware.RequireRole(middleware.RoleAdmin),
		)
		{
			admin.POST("/repair", h.RepairCounters)
			admin.POST("/recount", h.RecountCounters)
		}
	}
}

// writeError maps service error kinds onto HTTP responses.
func writeError(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, "user not found")
	case errors.Is(err, service.ErrSelfReference):
		response.BadRequest(c, "cannot target yourself")
	case errors.Is(err, service.ErrAlreadyExists):
		response.Conflict(c, "already following")
	case errors.Is(err, service.ErrNotFollowing):
		response.Conflict(c, "not following")
	case errors.Is(err, service.ErrAlreadyBlocked):
		response.Conflict(c, "already blocked")
	case errors.Is(err, service.ErrNotBlocked):
		response.Conflict(c, "not blocked")
	case errors.Is(err, service.ErrBlocked):
		response.Forbidden(c, "user is blocked")
	case errors.Is(err, service.ErrStoreFailure):
		l := pkglog.Ctx(c.Request.Context())
		l.Error().Err(err).Str("op", op).Msg("store failure")
		response.ServiceUnavailable(c, "storage temporarily unavailable")
	default:
		l := pkglog.Ctx(c.Request.Context())
		l.Error().Err(err).Str("op", op).Msg("request failed")
		response.InternalError(c, "internal error")
	}
}

// actor returns the authenticated user id, answering 401 when absent.
func actor(c *gin.Context) (string, bool) {
	id := middleware.GetUserID(c)
	if id == "" {
		response.Unauthorized(c, "unauthorized")
		return "", false
	}
	return id, true
}

// Follow handles POST /api/v1/users/:ref/follow.
// The authenticated user follows the target user.
func (h *Handler) Follow(c *gin.Context) {
	actorID, ok := actor(c)
	if !ok {
		return
	}

	profile, err := h.svc.Follow(c.Request.Context(), actorID, c.Param("ref"))
	if err != nil {
		writeError(c, err, "follow")
		return
	}

	response.Created(c, profile)
}

// Unfollow handles DELETE /api/v1/users/:ref/follow.
func (h *Handler) Unfollow(c *gin.Context) {
	actorID, ok := actor(c)
	if !ok {
		return
	}

	if err := h.svc.Unfollow(c.Request.Context(), actorID, c.Param("ref")); err != nil {
		writeError(c, err, "unfollow")
		return
	}

	c.Status(http.StatusNoContent)
}

// IsFollowing handles GET /api/v1/users/:ref/follow.
func (h *Handler) IsFollowing(c *gin.Context) {
	actorID, ok := actor(c)
	if !ok {
		return
	}

	following, err := h.svc.IsFollowing(c.Request.Context(), actorID, c.Param("ref"))
	if err != nil {
		writeError(c, err, "is_following")
		return
	}

	response.Success(c, gin.H{"following": following})
}

// Block handles POST /api/v1/users/:ref/block.
func (h *Handler) Block(c *gin.Context) {
	actorID, ok := actor(c)
	if !ok {
		return
	}

	if err := h.svc.Block(c.Request.Context(), actorID, c.Param("ref")); err != nil {
		writeError(c, err, "block")
		return
	}

	response.Created(c, gin.H{"message": "user blocked"})
}

// Unblock handles DELETE /api/v1/users/:ref/block.
func (h *Handler) Unblock(c *gin.Context) {
	actorID, ok := actor(c)
	if !ok {
		return
	}

	if err := h.svc.Unblock(c.Request.Context(), actorID, c.Param("ref")); err != nil {
		writeError(c, err, "unblock")
		return
	}

	c.Status(http.StatusNoContent)
}

// IsBlocked handles GET /api/v1/users/:ref/block.
func (h *Handler) IsBlocked(c *gin.Context) {
	actorID, ok := actor(c)
	if !ok {
		return
	}

	blocked, err := h.svc.IsBlocked(c.Request.Context(), actorID, c.Param("ref"))
	if err != nil {
		writeError(c, err, "is_blocked")
		return
	}

	response.Success(c, gin.H{"blocked": blocked})
}

// followingStatusRequest is the request body for POST /users/:ref/following/status.
type followingStatusRequest struct {
	TargetIDs []string `json:"target_ids" binding:"required"`
}

// BatchIsFollowing handles POST /api/v1/users/:ref/following/status.
func (h *Handler) BatchIsFollowing(c *gin.Context) {
	var req followingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l := pkglog.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("invalid following status request")
		response.BadRequest(c, err.Error())
		return
	}

	results, err := h.svc.BatchIsFollowing(c.Request.Context(), c.Param("ref"), req.TargetIDs)
	if err != nil {
		writeError(c, err, "batch_is_following")
		return
	}

	response.Success(c, gin.H{"results": results})
}

// GetFollowers handles GET /api/v1/users/:ref/followers.
func (h *Handler) GetFollowers(c *gin.Context) {
	h.list(c, "get_followers", h.svc.GetFollowers)
}

// GetFollowing handles GET /api/v1/users/:ref/following.
func (h *Handler) GetFollowing(c *gin.Context) {
	h.list(c, "get_following", h.svc.GetFollowing)
}

// GetConnections handles GET /api/v1/users/:ref/connections.
func (h *Handler) GetConnections(c *gin.Context) {
	h.list(c, "get_connections", h.svc.GetConnections)
}

type listFunc func(ctx context.Context, ref string) ([]domain.Profile, error)

// list answers one page of a profile list.
func (h *Handler) list(c *gin.Context, op string, fetch listFunc) {
	offset, limit, ok := pagination(c)
	if !ok {
		return
	}

	profiles, err := fetch(c.Request.Context(), c.Param("ref"))
	if err != nil {
		writeError(c, err, op)
		return
	}

	if profiles == nil {
		profiles = []domain.Profile{}
	}

	total := len(profiles)
	start := min(offset, total)
	end := min(start+limit, total)

	response.List(c, profiles[start:end], response.Meta{
		Total:  total,
		Offset: offset,
		Limit:  limit,
	})
}

// pagination reads offset and limit query parameters.
func pagination(c *gin.Context) (offset, limit int, ok bool) {
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		response.BadRequest(c, "offset must be a non-negative integer")
		return 0, 0, false
	}

	limit, err = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageLimit)))
	if err != nil || limit <= 0 {
		response.BadRequest(c, "limit must be a positive integer")
		return 0, 0, false
	}
	return offset, min(limit, maxPageLimit), true
}

// GetFollowersCount handles GET /api/v1/users/:ref/followers/count.
func (h *Handler) GetFollowersCount(c *gin.Context) {
	count, err := h.svc.GetFollowersCount(c.Request.Context(), c.Param("ref"))
	if err != nil {
		writeError(c, err, "get_followers_count")
		return
	}

	response.Success(c, gin.H{"count": count})
}

// GetFollowingCount handles GET /api/v1/users/:ref/following/count.
func (h *Handler) GetFollowingCount(c *gin.Context) {
	count, err := h.svc.GetFollowingCount(c.Request.Context(), c.Param("ref"))
	if err != nil {
		writeError(c, err, "get_following_count")
		return
	}

	response.Success(c, gin.H{"count": count})
}

// RepairCounters handles POST /api/v1/admin/graph/repair.
func (h *Handler) RepairCounters(c *gin.Context) {
	ctx := pkglog.WithLogger(c.Request.Context(),
		pkglog.Ctx(c.Request.Context()).With().Str(pkglog.FieldUserID, middleware.GetUserID(c)).Logger())

	report, err := h.svc.RepairCounters(ctx)
	if err != nil {
		writeError(c, err, "repair_counters")
		return
	}

	response.Success(c, report)
}

// RecountCounters handles POST /api/v1/admin/graph/recount.
func (h *Handler) RecountCounters(c *gin.Context) {
	ctx := pkglog.WithLogger(c.Request.Context(),
		pkglog.Ctx(c.Request.Context()).With().Str(pkglog.FieldUserID, middleware.GetUserID(c)).Logger())

	report, err := h.svc.RecountCounters(ctx)
	if err != nil {
		writeError(c, err, "recount_counters")
		return
	}

	response.Success(c, report)
}
