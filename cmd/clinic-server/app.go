package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medconsole/clinic/internal/config"
	"github.com/medconsole/clinic/internal/domain/patientdata"
	"github.com/medconsole/clinic/internal/domain/session"
	"github.com/medconsole/clinic/internal/platform/audit"
	"github.com/medconsole/clinic/internal/platform/auth"
	"github.com/medconsole/clinic/internal/platform/blobstore"
	"github.com/medconsole/clinic/internal/platform/db"
	"github.com/medconsole/clinic/internal/platform/docstore"
	"github.com/medconsole/clinic/internal/platform/levelstore"
	"github.com/medconsole/clinic/internal/platform/middleware"
	"github.com/medconsole/clinic/internal/platform/mongostore"
	"github.com/medconsole/clinic/internal/platform/websocket"
)

// healthStore is a document store that can also report its health.
type healthStore interface {
	docstore.Store
	db.Checker
}

// app holds the long-lived collaborators shared by the server and the
// maintenance commands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool     *pgxpool.Pool
	store    healthStore
	blobs    blobstore.Store
	recorder *audit.Recorder

	closers []func()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	return logger.Level(level)
}

// newApp connects the configured backends. The caller must call Close.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.NeedsPostgres() {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		logger.Info().Msg("connected to database")
	}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	sink, err := a.auditSink()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.recorder = audit.NewRecorder(sink, cfg.AuditStrict, logger)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	cfg := a.cfg
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		a.store = db.NewDocStore(a.pool)
	case config.BackendMongo:
		s, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.Close(ctx)
		})
		a.logger.Info().Str("database", cfg.MongoDatabase).Msg("connected to mongodb")
	case config.BackendLevelDB:
		s, err := levelstore.Open(cfg.LevelDBPath)
		if err != nil {
			return err
		}
		a.store = s
		a.blobs = blobstore.NewLevelStore(s.DB(), cfg.BlobMaxBytes)
		a.closers = append(a.closers, func() { s.Close() })
		a.logger.Info().Str("path", cfg.LevelDBPath).Msg("opened leveldb")
	default:
		a.store = docstore.NewMemoryStore()
		a.logger.Warn().Msg("using the in-memory document store; data is lost on restart")
	}

	if a.blobs == nil {
		a.blobs = blobstore.NewMemoryStore(cfg.BlobMaxBytes)
		if cfg.StoreBackend != config.BackendMemory {
			a.logger.Warn().Msg("uploaded file content is kept in memory; use STORE_BACKEND=leveldb to persist it")
		}
	}
	return nil
}

func (a *app) auditSink() (audit.Sink, error) {
	switch a.cfg.AuditSink {
	case config.AuditSinkPostgres:
		return audit.NewPGSink(a.pool), nil
	case config.AuditSinkRedis:
		client, err := audit.NewRedisClient(a.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { client.Close() })
		return audit.NewRedisSink(client, a.cfg.AuditStream, 100_000), nil
	case config.AuditSinkStore:
		return audit.NewStoreSink(a.store), nil
	default:
		return audit.NewLogSink(a.logger), nil
	}
}

// Close releases backends in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) patientService() *patientdata.PatientService {
	return patientdata.NewPatientService(a.store, a.recorder, a.logger)
}

func (a *app) sessionDeps() session.Deps {
	return session.Deps{
		Loader:             patientdata.NewAggregator(patientdata.NewFetcher(a.store), a.recorder, a.logger),
		Patients:           a.patientService(),
		Prescriptions:      patientdata.NewPrescriptionService(a.store, a.recorder, a.logger),
		Documents:          patientdata.NewDocumentService(a.store, a.recorder, a.logger),
		EnforceTransitions: a.cfg.EnforceStatusTransitions,
		Logger:             a.logger,
	}
}

func (a *app) jwtConfig() auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     a.cfg.AuthIssuer,
		Audience:   a.cfg.AuthAudience,
		SigningKey: []byte(a.cfg.AuthSigningKey),
	}
}

// newServer builds the HTTP server with every route mounted.
func (a *app) newServer() (*echo.Echo, error) {
	cfg := a.cfg
	bodyLimit, err := middleware.ParseSize(cfg.BodyLimit)
	if err != nil {
		return nil, fmt.Errorf("BODY_LIMIT: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(cfg.StoreBackend, a.store))

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware(a.jwtConfig()))
	} else {
		apiV1.Use(auth.JWTMiddleware(a.jwtConfig()))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.BodyLimit(bodyLimit))

	hub := websocket.NewHub(a.logger)
	deps := a.sessionDeps()
	deps.OnChange = func(userID string, v session.View) {
		hub.Publish(context.Background(), websocket.Event{
			Type:  "session.changed",
			Topic: session.Topic(userID),
			Data:  v,
		})
	}
	registry := session.NewRegistry(deps)
	session.NewHandler(registry, a.blobs, "/api/v1").RegisterRoutes(apiV1)

	staff := apiV1.Group("", auth.RequireRole(auth.StaffRoles...))
	blobstore.NewHandler(a.blobs).RegisterRoutes(staff)
	websocket.NewHandler(hub, sessionTopic, cfg.CORSOrigins).RegisterRoutes(staff)

	return e, nil
}

// sessionTopic binds a live-update connection to the caller's own session.
func sessionTopic(c echo.Context) (string, error) {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return session.Topic(userID), nil
}
