package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/coursekitlabs/coursekit/internal/audit/domain"
	"github.com/coursekitlabs/coursekit/internal/config"
	"github.com/coursekitlabs/coursekit/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("server",
	fx.Provide(New),
	fx.Invoke(RunHTTP),
)

type Params struct {
	fx.In

	Cfg       config.Config
	Log       *zap.Logger
	DB        *gorm.DB
	AuditSvc  auditdomain.Service
	Limiter   *ratelimit.Limiter
	Registry  *prometheus.Registry `optional:"true"`
}

type Server struct {
	cfg      config.Config
	log      *zap.Logger
	db       *gorm.DB
	auditSvc auditdomain.Service
	limiter  *ratelimit.Limiter
	metrics  *metrics
	registry *prometheus.Registry
}

func New(p Params) *Server {
	registry := p.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &Server{
		cfg:      p.Cfg,
		log:      p.Log.Named("server"),
		db:       p.DB,
		auditSvc: p.AuditSvc,
		limiter:  p.Limiter,
		metrics:  newMetrics(registry),
		registry: registry,
	}
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(s.log), s.metrics.Middleware())

	r.GET("/healthz", s.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")

	export := api.Group("/organizations/:org_id/audit/export")
	{
		admin := export.Group("")
		admin.Use(s.OrgAdminRequired())
		admin.POST("", s.CreateExportJob)
		admin.GET("", s.ListExportJobs)
		admin.GET("/:job_id", s.GetExportJob)
		admin.DELETE("/:job_id", s.DeleteExportJob)
		admin.GET("/:job_id/download", s.DownloadExport)
		admin.GET("/:job_id/access", s.ListExportAccess)

		trigger := export.Group("")
		trigger.Use(s.TriggerSecretRequired())
		trigger.POST("/:job_id/process", s.ProcessExportJob)
	}

	return r
}

// @Summary      Health
// @Description  Liveness probe
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /healthz [get]
func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func RunHTTP(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.log.Info("http server starting", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Error("http server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.log.Info("http server stopping")
			return srv.Shutdown(ctx)
		},
	})
}
