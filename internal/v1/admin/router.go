package admin

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tempolink/tempolink/internal/v1/auth"
	"github.com/tempolink/tempolink/internal/v1/config"
	"github.com/tempolink/tempolink/internal/v1/health"
	"github.com/tempolink/tempolink/internal/v1/middleware"
	"github.com/tempolink/tempolink/internal/v1/ratelimit"
	"github.com/tempolink/tempolink/internal/v1/session"
	"github.com/tempolink/tempolink/internal/v1/types"
)

// Server bundles the dependencies of the admin HTTP surface.
type Server struct {
	hub       *session.Hub
	validator auth.TokenValidator
	feed      *Feed
}

// NewServer creates the admin surface over the given hub.
func NewServer(hub *session.Hub, validator auth.TokenValidator, feed *Feed) *Server {
	return &Server{hub: hub, validator: validator, feed: feed}
}

// Router assembles the gin engine: middleware, probes, metrics, and the
// authenticated /v1/admin group.
func (s *Server) Router(cfg *config.Config, rl *ratelimit.RateLimiter, healthHandler *health.Handler) *gin.Engine {
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware("tempolink-admin"))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = auth.GetAllowedOrigins(cfg.AllowedOrigins, []string{"http://localhost:3000"})
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsConfig))

	if rl != nil {
		router.Use(rl.GlobalMiddleware())
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	api := router.Group("/v1/admin")
	// The feed authenticates via query token; everything else is bearer.
	api.GET("/ws", s.feed.ServeWS)

	authed := api.Group("")
	authed.Use(s.authMiddleware(), requireScope(auth.ScopeRead))
	if rl != nil {
		authed.Use(rl.AdminMiddleware())
	}

	write := requireScope(auth.ScopeAdmin)

	authed.GET("/rooms", s.listRooms)
	authed.GET("/rooms/:id", s.roomDetails)
	authed.POST("/rooms/:id/max-users", write, s.setRoomMaxUsers)
	authed.POST("/rooms/:id/disband", write, s.disbandRoom)
	authed.PUT("/rooms/:id/contest", write, s.setContest)
	authed.DELETE("/rooms/:id/contest", write, s.clearContest)
	authed.PUT("/rooms/:id/contest/whitelist", write, s.updateWhitelist)
	authed.POST("/rooms/:id/contest/start", write, s.startContest)
	authed.POST("/rooms/:id/chat", write, s.roomChat)
	authed.POST("/rooms/:id/bans/:userId", write, s.banFromRoom)
	authed.DELETE("/rooms/:id/bans/:userId", write, s.unbanFromRoom)

	authed.GET("/users", s.listUsers)
	authed.POST("/users/:id/ban", write, s.banUser)
	authed.DELETE("/users/:id/ban", write, s.unbanUser)
	authed.POST("/users/:id/disconnect", write, s.disconnectUser)
	authed.POST("/users/:id/move", write, s.moveUser)

	authed.POST("/broadcast", write, s.broadcast)
	authed.GET("/settings", s.getSettings)
	authed.PUT("/settings", write, s.updateSettings)
	authed.GET("/stats", s.getStats)

	return router
}

// authMiddleware validates the bearer token and stores its claims in the
// request context.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := s.validator.ValidateToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

func requireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get("claims")
		claims, ok := v.(*auth.CustomClaims)
		if !exists || !ok || !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient scope"})
			return
		}
		c.Next()
	}
}

// replyErr maps the session error taxonomy onto HTTP statuses.
func replyErr(c *gin.Context, err error) {
	status := http.StatusBadRequest
	var code types.Code
	if errors.As(err, &code) {
		switch code {
		case types.CodeRoomNotFound, types.CodeUserNotFound:
			status = http.StatusNotFound
		case types.CodeRoomInvalidState, types.CodeRoomNotReady, types.CodeJoinRoomFull,
			types.CodeRoomAlreadyInRoom, types.CodeStartNoChartSelected, types.CodeUserStillConnected:
			status = http.StatusConflict
		}
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func roomID(c *gin.Context) types.RoomID {
	return types.RoomID(c.Param("id"))
}

func userParam(c *gin.Context, name string) (types.UserID, bool) {
	n, err := strconv.ParseInt(c.Param(name), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return types.UserID(n), true
}

func (s *Server) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": s.hub.ListRooms()})
}

func (s *Server) roomDetails(c *gin.Context) {
	d, err := s.hub.RoomDetails(roomID(c))
	if err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) setRoomMaxUsers(c *gin.Context) {
	var req struct {
		MaxUsers int `json:"maxUsers" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.hub.SetRoomMaxUsers(roomID(c), req.MaxUsers); err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) disbandRoom(c *gin.Context) {
	if err := s.hub.DisbandRoom(roomID(c)); err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) setContest(c *gin.Context) {
	var req session.ContestSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.hub.SetContest(roomID(c), req); err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) clearContest(c *gin.Context) {
	if err := s.hub.ClearContest(roomID(c)); err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) updateWhitelist(c *gin.Context) {
	var req struct {
		Whitelist []types.UserID `json:"whitelist"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.hub.UpdateContestWhitelist(roomID(c), req.Whitelist); err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) startContest(c *gin.Context) {
	var req struct {
		Force bool `json:"force"`
	}
	// Body is optional; force defaults to false.
	_ = c.ShouldBindJSON(&req)
	if err := s.hub.StartContest(roomID(c), req.Force); err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) roomChat(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.hub.BroadcastChat(roomID(c), req.Message); err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) broadcast(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.hub.BroadcastChat("", req.Message); err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) banFromRoom(c *gin.Context) {
	uid, ok := userParam(c, "userId")
	if !ok {
		return
	}
	if err := s.hub.BanFromRoom(roomID(c), uid); err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) unbanFromRoom(c *gin.Context) {
	uid, ok := userParam(c, "userId")
	if !ok {
		return
	}
	s.hub.UnbanFromRoom(roomID(c), uid)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": s.hub.ListUsers()})
}

func (s *Server) banUser(c *gin.Context) {
	uid, ok := userParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Disconnect bool `json:"disconnect"`
	}
	_ = c.ShouldBindJSON(&req)
	s.hub.BanUser(uid, req.Disconnect)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) unbanUser(c *gin.Context) {
	uid, ok := userParam(c, "id")
	if !ok {
		return
	}
	s.hub.UnbanUser(uid)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) disconnectUser(c *gin.Context) {
	uid, ok := userParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		PreserveRoom bool `json:"preserveRoom"`
	}
	_ = c.ShouldBindJSON(&req)
	if err := s.hub.Disconnect(uid, req.PreserveRoom); err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) moveUser(c *gin.Context) {
	uid, ok := userParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		RoomID  string `json:"roomId" binding:"required"`
		Monitor bool   `json:"monitor"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.hub.MoveUser(uid, types.RoomID(req.RoomID), req.Monitor); err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.CurrentSettings())
}

func (s *Server) updateSettings(c *gin.Context) {
	var req struct {
		ReplayEnabled       *bool `json:"replayEnabled"`
		RoomCreationEnabled *bool `json:"roomCreationEnabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ReplayEnabled != nil {
		s.hub.SetReplayEnabled(*req.ReplayEnabled)
	}
	if req.RoomCreationEnabled != nil {
		s.hub.SetRoomCreationEnabled(*req.RoomCreationEnabled)
	}
	c.JSON(http.StatusOK, s.hub.CurrentSettings())
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.CurrentStats())
}
