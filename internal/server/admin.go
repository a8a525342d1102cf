package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/trafficgw/internal/backend"
	"github.com/vyrodovalexey/trafficgw/internal/config"
	"github.com/vyrodovalexey/trafficgw/internal/gateway"
	"github.com/vyrodovalexey/trafficgw/internal/observability"
	"github.com/vyrodovalexey/trafficgw/internal/util"
)

// AdminPrefix is the path prefix of the admin API.
const AdminPrefix = "/_gateway"

// statusRequest is the body of PUT services/:id/status.
type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ruleUpdate is the body of PATCH rules/ratelimit/:id.
type ruleUpdate struct {
	Enabled  *bool `json:"enabled,omitempty"`
	Priority *int  `json:"priority,omitempty"`
}

func (s *Server) registerAdminRoutes(g *gin.RouterGroup) {
	g.GET("/healthz", s.healthz)
	g.GET("/stats", s.stats)
	g.GET("/requests", s.recentRequests)

	g.GET("/services", s.listServices)
	g.POST("/services", s.addService)
	g.DELETE("/services/:id", s.removeService)
	g.PUT("/services/:id/status", s.setServiceStatus)

	g.GET("/rules/routing", s.listRoutingRules)
	g.GET("/rules/ratelimit", s.listRateLimitRules)
	g.PATCH("/rules/ratelimit/:id", s.updateRateLimitRule)
}

func (s *Server) healthz(c *gin.Context) {
	status := http.StatusOK
	state := "ok"
	if len(s.gw.Registry().Healthy()) == 0 && s.gw.Registry().Len() > 0 {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":    state,
		"gateway":   s.gw.State().String(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.gw.Stats(c.Request.Context()))
}

func (s *Server) recentRequests(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, util.WrapError(util.ErrInvalidInput, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, s.gw.RecentRequests(limit))
}

func (s *Server) listServices(c *gin.Context) {
	c.JSON(http.StatusOK, s.gw.LoadBalancer().Stats())
}

func (s *Server) addService(c *gin.Context) {
	var sc config.ServiceConfig
	if err := c.ShouldBindJSON(&sc); err != nil {
		writeError(c, util.WrapError(util.ErrInvalidInput, err.Error()))
		return
	}

	config.ApplyServiceDefaults(&sc)
	if err := config.ValidateService(&sc, "service"); err != nil {
		writeError(c, err)
		return
	}

	svc, err := s.gw.Registry().Add(gateway.ServiceSpecFromConfig(sc))
	if err != nil {
		writeError(c, err)
		return
	}

	s.logger.WithContext(c.Request.Context()).Info("service registered through admin api",
		observability.String("service", svc.ID()),
		observability.String("address", sc.Address),
	)
	c.JSON(http.StatusCreated, svc.Snapshot())
}

func (s *Server) removeService(c *gin.Context) {
	id := c.Param("id")
	if !s.gw.Registry().Remove(id) {
		writeError(c, util.WrapError(util.ErrNotFound, "service "+id))
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setServiceStatus(c *gin.Context) {
	var body statusRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, util.WrapError(util.ErrInvalidInput, err.Error()))
		return
	}

	status, err := backend.ParseStatus(body.Status)
	if err != nil {
		writeError(c, util.WrapError(util.ErrInvalidInput, err.Error()))
		return
	}

	id := c.Param("id")
	if err := s.gw.Registry().SetStatus(id, status); err != nil {
		writeError(c, err)
		return
	}

	svc, _ := s.gw.Registry().Get(id)
	c.JSON(http.StatusOK, svc.Snapshot())
}

func (s *Server) listRoutingRules(c *gin.Context) {
	c.JSON(http.StatusOK, s.gw.Router().Rules())
}

func (s *Server) listRateLimitRules(c *gin.Context) {
	c.JSON(http.StatusOK, s.gw.RateLimiter().Rules())
}

func (s *Server) updateRateLimitRule(c *gin.Context) {
	var body ruleUpdate
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, util.WrapError(util.ErrInvalidInput, err.Error()))
		return
	}

	id := c.Param("id")
	limiter := s.gw.RateLimiter()
	if _, ok := limiter.Rule(id); !ok {
		writeError(c, util.WrapError(util.ErrNotFound, "rate limit rule "+id))
		return
	}
	if body.Enabled != nil {
		if err := limiter.SetEnabled(id, *body.Enabled); err != nil {
			writeError(c, err)
			return
		}
	}
	if body.Priority != nil {
		if err := limiter.SetPriority(id, *body.Priority); err != nil {
			writeError(c, err)
			return
		}
	}

	rule, _ := limiter.Rule(id)
	c.JSON(http.StatusOK, rule)
}
