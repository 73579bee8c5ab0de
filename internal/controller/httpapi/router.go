package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/Freeeeeet/notary_scheduler/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const actorKey = "actor"

// Handler JSON API поверх BookingService
type Handler struct {
	bookings *service.BookingService
	logger   *zap.Logger
}

func NewHandler(bookings *service.BookingService, logger *zap.Logger) *Handler {
	return &Handler{bookings: bookings, logger: logger}
}

// Options настройки роутера
type Options struct {
	// StaffToken токен сотрудника (Authorization: Bearer ...). Пустой = staff-ручки закрыты.
	StaffToken string
	Gatherer   prometheus.Gatherer
}

// NewRouter собирает gin-роутер со всеми ручками
func NewRouter(h *Handler, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger), resolveActor(opts.StaffToken))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1")
	{
		v1.GET("/services", h.ListServices)
		v1.GET("/services/:id/slots", h.GetSlots)

		v1.POST("/bookings", h.CreateBooking)
		v1.GET("/bookings/:id", h.GetBooking)
		v1.POST("/bookings/:id/confirm", h.ConfirmBooking)
		v1.POST("/bookings/:id/transition", h.TransitionBooking)

		staff := v1.Group("")
		staff.Use(requireStaff())
		{
			staff.GET("/bookings", h.ListBookings)
			staff.POST("/bookings/:id/requeue", h.RequeueFulfillment)
			staff.GET("/fulfillments/failed", h.ListFailedFulfillments)
		}
	}

	return r
}

// resolveActor клиент по умолчанию, сотрудник при верном токене
func resolveActor(staffToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := model.Actor{Kind: model.ActorClient, ID: "http:" + c.ClientIP()}

		authHeader := c.GetHeader("Authorization")
		if staffToken != "" && strings.HasPrefix(authHeader, "Bearer ") {
			if strings.TrimPrefix(authHeader, "Bearer ") != staffToken {
				c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid staff token", Code: "unauthorized"})
				return
			}
			actor = model.Actor{Kind: model.ActorStaff, ID: "http-staff"}
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

func requireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actorFrom(c).Kind != model.ActorStaff {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "staff access required", Code: "unauthorized"})
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) model.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(model.Actor); ok {
			return a
		}
	}
	return model.Actor{Kind: model.ActorClient}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
