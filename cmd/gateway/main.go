// Command gateway is the livegateway process entrypoint: it loads
// configuration, wires every component (C1-C9), and serves the combined
// WebRTC signaling + HTTP surface on one gin.Engine until an interrupt or
// unrecoverable startup failure.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/aperturelabs/livegateway/internal/config"
	"github.com/aperturelabs/livegateway/internal/conversation"
	"github.com/aperturelabs/livegateway/internal/gallery"
	"github.com/aperturelabs/livegateway/internal/httpapi"
	"github.com/aperturelabs/livegateway/internal/media/codec"
	"github.com/aperturelabs/livegateway/internal/privacy"
	"github.com/aperturelabs/livegateway/internal/session"
	"github.com/aperturelabs/livegateway/internal/signaling"
	"github.com/aperturelabs/livegateway/internal/spatial"
	"github.com/aperturelabs/livegateway/internal/upstream"
	"github.com/aperturelabs/livegateway/pkg/commons"
	"github.com/redis/go-redis/v9"
)

// Exit codes per spec.md §6: 0 normal shutdown, 2 bad configuration,
// 70 (EX_SOFTWARE) unrecoverable runtime failure.
const (
	exitOK          = 0
	exitBadConfig   = 2
	exitRuntimeFail = 70
)

func main() {
	os.Exit(run())
}

func run() int {
	v, err := config.InitConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "livegateway: loading configuration: %v\n", err)
		return exitBadConfig
	}
	cfg, err := config.GetApplicationConfig(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livegateway: invalid configuration: %v\n", err)
		return exitBadConfig
	}

	logger, err := commons.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livegateway: building logger: %v\n", err)
		return exitBadConfig
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		logger.Infow("received shutdown signal", "signal", s.String())
		cancel()
	}()

	manager, api, err := wire(ctx, cfg, logger)
	if err != nil {
		logger.Errorw("failed to wire gateway", "error", err)
		return exitRuntimeFail
	}
	defer manager.Shutdown()

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Infow("starting http server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErrCh:
		if err != nil {
			logger.Errorw("http server failed", "error", err)
			return exitRuntimeFail
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("graceful shutdown failed", "error", err)
		return exitRuntimeFail
	}

	logger.Info("shutdown complete")
	return exitOK
}

// wire builds every C1-C9 component from cfg, following the teacher's
// constructor-injection style throughout (api/assistant-api's handlers take
// their collaborators as explicit constructor arguments rather than a
// service-locator container).
func wire(ctx context.Context, cfg *config.AppConfig, logger commons.Logger) (*session.Manager, *httpapi.API, error) {
	faceDetector := privacy.NewHTTPFaceDetector(cfg.FaceDetectorURL, time.Duration(cfg.FaceDetectTimeout)*time.Millisecond, logger)
	shield := privacy.New(faceDetector, privacy.Config{
		CrowdThreshold: cfg.CrowdThreshold,
		BlurRadiusMin:  cfg.BlurRadiusMin,
		JPEGQuality:    80,
	}, logger)

	spatialAnalyzer, err := spatial.NewGenAIAnalyzer(ctx, cfg.LiveAPIKey, cfg.SpatialModel, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("building spatial analyzer: %w", err)
	}

	db, err := gorm.Open(postgres.Open(postgresDSN(cfg.Postgres)), &gorm.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("unwrapping postgres connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConnection)
	sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConnection)

	blobs, err := gallery.NewS3BlobStore(gallery.S3Config{Bucket: cfg.BlobBucket, Region: cfg.BlobRegion}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("building blob store: %w", err)
	}
	records := gallery.NewGormRecordStore(db, logger)
	minter := gallery.NewJWTMinter([]byte(cfg.JWTSigningKey), "/gallery/blob")
	galleryStore := gallery.New(blobs, records, minter, gallery.Config{DownloadURLTTL: cfg.SignedURLTTL()}, logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	manager := session.NewManager(session.Deps{
		ICEServers:     []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		CodecConfig:    codec.DefaultConfig(),
		SampleInterval: cfg.SampleInterval(),
		Shield:         shield,
		NewUpstream: func(ctx context.Context) (upstream.LiveClient, error) {
			return upstream.NewGenAILiveClient(ctx, cfg.LiveAPIKey, cfg.LiveModel, logger)
		},
		ReconnectPolicy: upstream.DefaultReconnectPolicy(),
		FSMConfig: conversation.Config{
			BargeInThreshold: cfg.BargeInThreshold(),
			TieBreakWindow:   conversation.DefaultConfig().TieBreakWindow,
		},
		Logger:       logger,
		IdleTimeout:  cfg.SessionIdleTimeout(),
		WallClockCap: cfg.SessionWallClockCap(),
	})

	gateway := signaling.New(manager, logger)

	api := httpapi.New(httpapi.Config{
		RateLimitRPM:   cfg.RateLimitRPM,
		CORSOrigins:    cfg.CORSOrigins(),
		JWTSigningKey:  []byte(cfg.JWTSigningKey),
		GalleryListMax: 100,
	}, shield, spatialAnalyzer, galleryStore, gateway, redisClient, logger)

	return manager, api, nil
}

func postgresDSN(pg config.PostgresConfig) string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		pg.Host, pg.Port, pg.DBName, pg.User, pg.Password, pg.SSLMode)
}
