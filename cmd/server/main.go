// Command server starts the tour graph HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tourgraph/internal/api"
	"tourgraph/internal/blobstore"
	"tourgraph/internal/observability/logging"
	"tourgraph/internal/observability/metrics"
	"tourgraph/internal/server"
	"tourgraph/internal/storage"
	"tourgraph/internal/tour"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	lockDriver := flag.String("lock-driver", "", "node lock driver (local or redis)")
	lockRedisAddr := flag.String("lock-redis-addr", "", "Redis address for distributed node locks")
	lockRedisAddrs := flag.String("lock-redis-addrs", "", "comma separated Redis addresses for distributed node locks")
	lockRedisUsername := flag.String("lock-redis-username", "", "Redis username for distributed node locks")
	lockRedisPassword := flag.String("lock-redis-password", "", "Redis password for distributed node locks")
	lockRedisMasterName := flag.String("lock-redis-sentinel-master", "", "Redis sentinel master name for distributed node locks")
	lockTTL := flag.Duration("lock-ttl", 0, "expiry applied to a held node lock")
	lockRetryInterval := flag.Duration("lock-retry-interval", 0, "polling interval while waiting for a node lock")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint (e.g. http://127.0.0.1:9000)")
	objectRegion := flag.String("object-region", "", "object storage region")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectBucket := flag.String("object-bucket", "", "object storage bucket name")
	objectUseSSL := flag.Bool("object-use-ssl", false, "enable TLS for object storage requests")
	objectPrefix := flag.String("object-prefix", "", "object storage key prefix for panorama images")
	objectPublicEndpoint := flag.String("object-public-endpoint", "", "public endpoint used for image URLs")
	objectRequestTimeout := flag.Duration("object-request-timeout", 0, "timeout for individual object storage requests")
	objectMaxInflight := flag.Int("object-max-inflight", 0, "maximum concurrent object storage requests")
	rejectSelfLinks := flag.Bool("reject-self-links", false, "refuse hotspots that target their own panorama")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	uploadLimit := flag.Int("rate-upload-limit", 0, "maximum image uploads per window for a single IP")
	uploadWindow := flag.Duration("rate-upload-window", 0, "window for counting image uploads")
	editorOrigins := flag.String("cors-editor-origins", "", "comma separated origins allowed for the tour builder UI")
	viewerOrigins := flag.String("cors-viewer-origins", "", "comma separated origins allowed for the public viewer")
	imageOrigins := flag.String("csp-image-origins", "", "comma separated origins browsers may load panorama images from")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("TOURGRAPH_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("TOURGRAPH_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("TOURGRAPH_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("TOURGRAPH_ADDR"))

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("TOURGRAPH_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" && driver != "postgres" {
		logger.Error("production mode requires the postgres datastore driver", "driver", driver)
		os.Exit(1)
	}

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("TOURGRAPH_DATA"))
		store, err = storage.NewStorage(dataFile)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var pgOptions []storage.Option
		maxConns := resolveInt(*postgresMaxConns, "TOURGRAPH_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "TOURGRAPH_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "TOURGRAPH_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "TOURGRAPH_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "TOURGRAPH_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "TOURGRAPH_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("TOURGRAPH_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresStore(context.Background(), postgresDefaultDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	blobs := blobstore.New(blobstore.Config{
		Endpoint:       firstNonEmpty(*objectEndpoint, os.Getenv("TOURGRAPH_OBJECT_ENDPOINT")),
		Region:         firstNonEmpty(*objectRegion, os.Getenv("TOURGRAPH_OBJECT_REGION")),
		AccessKey:      firstNonEmpty(*objectAccessKey, os.Getenv("TOURGRAPH_OBJECT_ACCESS_KEY")),
		SecretKey:      firstNonEmpty(*objectSecretKey, os.Getenv("TOURGRAPH_OBJECT_SECRET_KEY")),
		Bucket:         firstNonEmpty(*objectBucket, os.Getenv("TOURGRAPH_OBJECT_BUCKET")),
		UseSSL:         resolveBool(*objectUseSSL, "TOURGRAPH_OBJECT_USE_SSL"),
		Prefix:         firstNonEmpty(*objectPrefix, os.Getenv("TOURGRAPH_OBJECT_PREFIX")),
		PublicEndpoint: firstNonEmpty(*objectPublicEndpoint, os.Getenv("TOURGRAPH_OBJECT_PUBLIC_ENDPOINT")),
		RequestTimeout: resolveDuration(*objectRequestTimeout, "TOURGRAPH_OBJECT_REQUEST_TIMEOUT", 0),
		MaxInflight:    int64(resolveInt(*objectMaxInflight, "TOURGRAPH_OBJECT_MAX_INFLIGHT")),
	})
	if !blobs.Enabled() {
		logger.Warn("object storage not configured, panorama uploads will be rejected")
	}

	locker, lockerCloser, err := configureLocker(lockerSettings{
		Driver:        firstNonEmpty(*lockDriver, os.Getenv("TOURGRAPH_LOCK_DRIVER")),
		Addr:          firstNonEmpty(*lockRedisAddr, os.Getenv("TOURGRAPH_LOCK_REDIS_ADDR")),
		Addrs:         splitAndTrim(firstNonEmpty(*lockRedisAddrs, os.Getenv("TOURGRAPH_LOCK_REDIS_ADDRS"))),
		Username:      firstNonEmpty(*lockRedisUsername, os.Getenv("TOURGRAPH_LOCK_REDIS_USERNAME")),
		Password:      firstNonEmpty(*lockRedisPassword, os.Getenv("TOURGRAPH_LOCK_REDIS_PASSWORD")),
		MasterName:    firstNonEmpty(*lockRedisMasterName, os.Getenv("TOURGRAPH_LOCK_REDIS_SENTINEL_MASTER")),
		TTL:           resolveDuration(*lockTTL, "TOURGRAPH_LOCK_TTL", 0),
		RetryInterval: resolveDuration(*lockRetryInterval, "TOURGRAPH_LOCK_RETRY_INTERVAL", 0),
	}, logger)
	if err != nil {
		logger.Error("failed to configure node locker", "error", err)
		os.Exit(1)
	}

	service, err := tour.NewService(tour.Config{
		Store:           store,
		Blobs:           blobs,
		Locker:          locker,
		Logger:          logging.WithComponent(logger, "tour"),
		Metrics:         recorder,
		RejectSelfLinks: resolveBool(*rejectSelfLinks, "TOURGRAPH_REJECT_SELF_LINKS"),
	})
	if err != nil {
		logger.Error("failed to initialise tour service", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(service, store)

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("TOURGRAPH_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("TOURGRAPH_TLS_KEY")),
		},
		CORS: server.CORSConfig{
			EditorOrigins: splitAndTrim(firstNonEmpty(*editorOrigins, os.Getenv("TOURGRAPH_CORS_EDITOR_ORIGINS"))),
			ViewerOrigins: splitAndTrim(firstNonEmpty(*viewerOrigins, os.Getenv("TOURGRAPH_CORS_VIEWER_ORIGINS"))),
		},
		Security: server.SecurityConfig{
			ImageOrigins: splitAndTrim(firstNonEmpty(*imageOrigins, os.Getenv("TOURGRAPH_CSP_IMAGE_ORIGINS"))),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:    resolveFloat(*globalRPS, "TOURGRAPH_RATE_GLOBAL_RPS"),
			GlobalBurst:  resolveInt(*globalBurst, "TOURGRAPH_RATE_GLOBAL_BURST"),
			UploadLimit:  resolveInt(*uploadLimit, "TOURGRAPH_RATE_UPLOAD_LIMIT"),
			UploadWindow: resolveDuration(*uploadWindow, "TOURGRAPH_RATE_UPLOAD_WINDOW", time.Minute),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("tour graph API listening", "addr", listenAddr, "mode", serverMode, "storage_driver", driver)
	logger.Info("metrics endpoint available", "path", "/metricsz")
	if err := srv.Run(runCtx, nil); err != nil {
		logger.Error("server error", "error", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.Close(closeCtx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	if lockerCloser != nil {
		if err := lockerCloser(); err != nil {
			logger.Warn("failed to close node locker", "error", err)
		}
	}

	logger.Info("server stopped")
}

type lockerSettings struct {
	Driver        string
	Addr          string
	Addrs         []string
	Username      string
	Password      string
	MasterName    string
	TTL           time.Duration
	RetryInterval time.Duration
}

func configureLocker(cfg lockerSettings, logger *slog.Logger) (tour.NodeLocker, func() error, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "redis":
		locker, err := tour.NewRedisLocker(tour.RedisLockerConfig{
			Addr:          cfg.Addr,
			Addrs:         cfg.Addrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			MasterName:    cfg.MasterName,
			TTL:           cfg.TTL,
			RetryInterval: cfg.RetryInterval,
			Logger:        logging.WithComponent(logger, "node-locks"),
		})
		if err != nil {
			return nil, nil, err
		}
		return locker, locker.Close, nil
	case "", "local":
		return tour.NewLocalLocker(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported lock driver %q", driver)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/tours.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("TOURGRAPH_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
