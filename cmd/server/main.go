package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/chatterbox-im/server/internal/api"
	"github.com/chatterbox-im/server/internal/config"
	"github.com/chatterbox-im/server/internal/database"
	"github.com/chatterbox-im/server/internal/gateway"
	"github.com/chatterbox-im/server/internal/notify"
	"github.com/chatterbox-im/server/internal/presence"
	"github.com/chatterbox-im/server/internal/stats"
	"github.com/chatterbox-im/server/internal/storage"
	"github.com/chatterbox-im/server/internal/upload"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	allowedOrigins stringSliceFlag
	migrationsDir  string
	redisAddr      string
	redisPassword  string
	amqpURL        string
	minioEndpoint  string
	minioAccessKey string
	minioSecretKey string
	minioBucket    string
	minioUseSSL    bool
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&migrationsDir, "migrations", "file://migrations", "migration source URL")
	flag.StringVar(&redisAddr, "redis-addr", "localhost:6379", "redis address for the presence store")
	flag.StringVar(&redisPassword, "redis-password", "", "redis password")
	flag.StringVar(&amqpURL, "amqp-url", "", "AMQP broker URL for push notifications (disabled when empty)")
	flag.StringVar(&minioEndpoint, "minio-endpoint", "", "minio endpoint for file attachments (disabled when empty)")
	flag.StringVar(&minioAccessKey, "minio-access-key", "", "minio access key")
	flag.StringVar(&minioSecretKey, "minio-secret-key", "", "minio secret key")
	flag.StringVar(&minioBucket, "minio-bucket", "chatterbox-attachments", "minio bucket for file attachments")
	flag.BoolVar(&minioUseSSL, "minio-ssl", false, "use TLS for minio connections")
	flag.Parse()

	logger := log.New(os.Stderr, "[chatterbox] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}
	cfg.RedisAddr = redisAddr
	cfg.RedisPassword = redisPassword
	cfg.AmqpURL = amqpURL
	cfg.MinioEndpoint = minioEndpoint
	cfg.MinioAccessKey = minioAccessKey
	cfg.MinioSecretKey = minioSecretKey
	cfg.MinioBucket = minioBucket
	cfg.MinioUseSSL = minioUseSSL

	dbConn, err := database.NewPgChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if err := dbConn.Migrate(migrationsDir); err != nil {
		logger.Fatal("db migrate:", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	presenceStore := presence.NewRedisStore(rdb, logger, cfg.PresenceTTL)
	pendingStore := presence.NewPendingStore(rdb, logger, cfg.PresenceTTL)

	assembler := upload.NewAssembler(logger, cfg.MaxUploadSize, cfg.UploadTTL)
	defer assembler.Close()

	var blobs storage.BlobStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logger.Fatal("minio:", err)
		}
		if err := minioStore.EnsureBucket(context.Background()); err != nil {
			logger.Fatal("minio bucket:", err)
		}
		blobs = minioStore
	} else {
		logger.Println("no minio endpoint configured, file uploads disabled")
	}

	var notifier notify.Publisher = notify.NoopPublisher{}
	if cfg.AmqpURL != "" {
		amqpPub, err := notify.NewAmqpPublisher(cfg.AmqpURL)
		if err != nil {
			logger.Fatal("amqp:", err)
		}
		notifier = amqpPub
	} else {
		logger.Println("no AMQP broker configured, push notifications disabled")
	}
	defer notifier.Close()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	gw := gateway.NewGateway(gateway.Config{
		Log:             logger,
		DB:              dbConn,
		Presence:        presenceStore,
		Pending:         pendingStore,
		Assembler:       assembler,
		Blobs:           blobs,
		Notifier:        notifier,
		Stats:           statsUpdater,
		OfflineDeadline: cfg.OfflineDeadline,
		MaxUploadSize:   cfg.MaxUploadSize,
	})

	srv := api.NewChatterboxApp(mux, logger, gw, dbConn, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go gw.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down gateway...")
	if err := gw.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("gateway shutdown:", err)
	}

	logger.Println("shutdown complete")
}
