package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/2beens/liftlog/internal/auth"
	"github.com/2beens/liftlog/internal/config"
	"github.com/2beens/liftlog/internal/db"
	"github.com/2beens/liftlog/internal/middleware"
	"github.com/2beens/liftlog/internal/telemetry/metrics"
	"github.com/2beens/liftlog/internal/telemetry/tracing"
	"github.com/2beens/liftlog/internal/workouts"
	"github.com/2beens/liftlog/internal/workouts/cache"
	"github.com/2beens/liftlog/internal/workouts/handler"
	"github.com/2beens/liftlog/internal/workouts/reconcile"
	"github.com/2beens/liftlog/internal/workouts/remote"
	"github.com/2beens/liftlog/pkg"
)

const maxRequestBodyBytes = 5 << 20 // backups included

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config      *config.Config
	dbPool      *pgxpool.Pool
	redisClient *redis.Client
	cacheStore  cache.Store

	authenticator auth.Authenticator
	notifier      *auth.Notifier
	registry      *reconcile.Registry
	validator     *workouts.Validator
	rateLimiter   middleware.RequestRateLimiter

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	VersionInfo             string
	PostgresPassword        string
	RedisPassword           string
	DataApiKey              string
	JWTSecret               string
	HoneycombTracingEnabled bool
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, "liftlog-backend")
	if err != nil {
		return nil, err
	}

	tracedHttpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   cfg.RemoteTimeout.Duration,
	}

	s := &Server{
		config:       cfg,
		versionInfo:  params.VersionInfo,
		otelShutdown: otelShutdown,
		validator:    workouts.NewValidator(cfg.AllowFutureDates),
		notifier:     auth.NewNotifier(),
	}

	var collectors []prometheus.Collector
	var remoteStore remote.Store
	switch cfg.RemoteBackend {
	case "postgres":
		s.dbPool, err = db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:         cfg.PostgresHost,
			DBPort:         cfg.PostgresPort,
			DBName:         cfg.PostgresDBName,
			DBPassword:     params.PostgresPassword,
			TracingEnabled: params.HoneycombTracingEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("new db pool: %w", err)
		}
		if err := s.dbPool.Ping(ctx); err != nil {
			log.Warnf("failed to ping db: %s", err)
		}
		collectors = append(collectors, pgxpoolprometheus.NewCollector(
			s.dbPool,
			map[string]string{"db_name": cfg.PostgresDBName},
		))
		remoteStore = remote.NewPgStore(s.dbPool)
	case "rest":
		if params.DataApiKey == "" {
			log.Warnln("data api key not set, requests will only carry the user token")
		}
		remoteStore = remote.NewRestStore(cfg.DataApiURL, params.DataApiKey, tracedHttpClient)
	default:
		return nil, fmt.Errorf("unknown remote backend: %s", cfg.RemoteBackend)
	}

	s.promRegistry = metrics.NewRegistry(metrics.RegistryParams{
		Process:     "server",
		WithRuntime: true,
		Extra:       collectors,
	})
	s.metricsManager = metrics.NewManager("backend", "main", s.promRegistry)
	s.metricsManager.GaugeLifeSignal.Set(0)

	if cfg.RedisHost != "" {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
			Password: params.RedisPassword,
			DB:       0, // use default DB
		})
		if params.HoneycombTracingEnabled {
			s.redisClient.AddHook(redisotel.NewTracingHook())
		}

		rdbStatus := s.redisClient.Ping(ctx)
		if err := rdbStatus.Err(); err != nil {
			log.Errorf("--> failed to ping redis: %s", err)
		} else {
			log.Debugf("redis ping: %s", rdbStatus.Val())
		}
		s.rateLimiter = redis_rate.NewLimiter(s.redisClient)
	}

	switch cfg.CacheBackend {
	case "redis":
		if s.redisClient == nil {
			return nil, errors.New("redis cache backend selected, but redis host not set")
		}
		s.cacheStore = cache.NewRedisStore(s.redisClient, cfg.RedisCacheTTL.Duration)
	case "sqlite":
		if err := pkg.EnsureDir(cfg.SQLiteCachePath); err != nil {
			return nil, fmt.Errorf("sqlite cache dir: %w", err)
		}
		s.cacheStore, err = cache.OpenSQLiteStore(ctx, cfg.SQLiteCachePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite cache: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.CacheBackend)
	}

	switch cfg.AuthMode {
	case "jwt":
		if params.JWTSecret == "" {
			return nil, errors.New("jwt auth mode selected, but the signing secret is not set")
		}
		s.authenticator = auth.NewJWTVerifier(params.JWTSecret, cfg.AuthIssuer)
	case "remote":
		s.authenticator = auth.NewRemoteVerifier(
			cfg.AuthURL,
			params.DataApiKey,
			tracedHttpClient,
			cfg.AuthCacheSizeMB,
			cfg.AuthCacheTTL.Duration,
			s.metricsManager,
		)
	default:
		return nil, fmt.Errorf("unknown auth mode: %s", cfg.AuthMode)
	}

	s.registry = reconcile.NewRegistry(reconcile.NewRegistryParams{
		Cache:          s.cacheStore,
		Remote:         remoteStore,
		Validator:      s.validator,
		MetricsManager: s.metricsManager,
		RemoteTimeout:  cfg.RemoteTimeout.Duration,
	})
	s.notifier.Subscribe(s.registry.HandleIdentityChange)

	return s, nil
}

func (s *Server) routerSetup() (*mux.Router, error) {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("main-router"))

	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		pkg.WriteTextResponseOK(w, "I'm OK, thanks ;)")
	}).Methods("GET").Name("root")
	r.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		pkg.WriteTextResponseOK(w, s.versionInfo)
	}).Methods("GET", "OPTIONS").Name("version")

	workoutsHandler := handler.NewHandler(s.registry, s.validator)
	r.HandleFunc("/me", workoutsHandler.HandleMe).Methods("GET", "OPTIONS").Name("me")
	r.HandleFunc("/workouts", workoutsHandler.HandleAdd).Methods("POST", "OPTIONS").Name("new-workout")
	r.HandleFunc("/workouts", workoutsHandler.HandleList).Methods("GET", "OPTIONS").Name("list-workouts")
	r.HandleFunc("/workouts", workoutsHandler.HandleClear).Methods("DELETE", "OPTIONS").Name("clear-workouts")
	r.HandleFunc("/workouts/reload", workoutsHandler.HandleReload).Methods("POST", "OPTIONS").Name("reload-workouts")
	r.HandleFunc("/workouts/stats", workoutsHandler.HandleStats).Methods("GET", "OPTIONS").Name("workout-stats")
	r.HandleFunc("/workouts/bests", workoutsHandler.HandleBests).Methods("GET", "OPTIONS").Name("personal-bests")
	r.HandleFunc("/workouts/weekly", workoutsHandler.HandleWeekly).Methods("GET", "OPTIONS").Name("weekly-volume")
	r.HandleFunc("/workouts/history/{exercise}", workoutsHandler.HandleHistory).Methods("GET", "OPTIONS").Name("exercise-history")
	r.HandleFunc("/workouts/export", workoutsHandler.HandleExport).Methods("GET", "OPTIONS").Name("export-workouts")

	var importHandler http.Handler = http.HandlerFunc(workoutsHandler.HandleImport)
	if s.rateLimiter != nil {
		importHandler = middleware.RateLimit(
			s.rateLimiter,
			"import-workouts",
			s.config.ImportRateLimitPerMin,
			s.metricsManager,
		)(importHandler)
	} else {
		log.Warnln("redis not configured, import requests are not rate limited")
	}
	r.Handle("/workouts/import", importHandler).Methods("POST", "OPTIONS").Name("import-workouts")

	r.HandleFunc("/workouts/{id}", workoutsHandler.HandleDelete).Methods("DELETE", "OPTIONS").Name("remove-workout")

	// all the rest - unhandled paths
	r.HandleFunc("/{unknown}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Methods("GET", "POST", "PUT", "DELETE", "OPTIONS").Name("unknown")

	authMiddleware := middleware.NewAuthMiddlewareHandler(s.authenticator, s.notifier)

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors())
	r.Use(authMiddleware.AuthCheck())
	r.Use(middleware.DrainAndCloseRequest())
	r.Use(middleware.LimitRequestBody(maxRequestBodyBytes))

	return r, nil
}

func (s *Server) Serve(host string, port int) {
	router, err := s.routerSetup()
	if err != nil {
		log.Fatalf("failed to setup router: %s", err)
	}

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      router,
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.HandlerFor(
		s.promRegistry,
		promhttp.HandlerOpts{},
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:    metricsAddr,
		Handler: metricsRouter,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown http server")
		}
		log.Warnln("server shut down")
	}

	if s.metricsHttpServer != nil {
		if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown metrics http server")
		}
		log.Warnln("metrics server shut down")
	}

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if closer, ok := s.cacheStore.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Errorf("failed to close workouts cache: %s", err)
		}
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
