package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LingByte/LingCall/cmd/bootstrap"
	"github.com/LingByte/LingCall/internal/hooks"
	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/api"
	"github.com/LingByte/LingCall/pkg/audio"
	"github.com/LingByte/LingCall/pkg/call"
	"github.com/LingByte/LingCall/pkg/campaign"
	"github.com/LingByte/LingCall/pkg/config"
	"github.com/LingByte/LingCall/pkg/conversation"
	"github.com/LingByte/LingCall/pkg/engine"
	"github.com/LingByte/LingCall/pkg/llm"
	"github.com/LingByte/LingCall/pkg/logger"
	sip1 "github.com/LingByte/LingCall/pkg/sip"
	"github.com/LingByte/LingCall/pkg/sip/ua"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	// 1. Parse Command Line Parameters
	mode := flag.String("mode", "", "running environment (development, test, production)")
	init := flag.Bool("init", false, "initialize database and seed demo data")
	initSQL := flag.String("init-sql", "", "path to database init .sql script (optional)")
	migrate := flag.Bool("migrate", true, "auto migrate entities on start")
	flag.Parse()

	// 2. Set Environment Variables
	if *mode != "" {
		os.Setenv("APP_ENV", *mode)
	}

	// 3. Load Global Configuration
	if err := config.Load(); err != nil {
		panic("config load failed: " + err.Error())
	}
	cfg := config.GlobalConfig
	if err := cfg.Validate(); err != nil {
		panic("invalid config: " + err.Error())
	}

	// 4. Load Log Configuration
	if err := logger.Init(&cfg.Log, cfg.Server.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()

	// 5. Print Banner
	if err := bootstrap.PrintBannerFromFile("banner.txt", cfg.Server.Name); err != nil {
		log.Fatalf("unload banner: %v", err)
	}

	// 6. Load Data Source
	db, err := bootstrap.SetupDatabase(os.Stdout, &bootstrap.Options{
		InitSQLPath: *initSQL,
		AutoMigrate: *init || *migrate,
		SeedNonProd: *init,
	})
	if err != nil {
		logger.Error("database setup failed", zap.Error(err))
		return
	}

	logger.Info("checked config -- addr", zap.String("addr", cfg.Server.Addr))
	logger.Info("checked config -- db-driver", zap.String("db-driver", cfg.Database.Driver))
	logger.Info("checked config -- mode", zap.String("mode", cfg.Server.Mode))
	logger.Info("checked config -- lines", zap.Int("lines", cfg.SIP.NumLines))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 7. Telephony
	uaConfig := &ua.UAConfig{
		Host:          cfg.SIP.Host,
		Port:          cfg.SIP.Port,
		UserAgentName: cfg.SIP.UserAgent,
		LocalRTPPort:  cfg.SIP.RTPPort,
		StorageType:   ua.StorageType(cfg.SIP.StorageType),
		StoragePath:   cfg.SIP.StoragePath,
	}
	uaConfig.SetDBConfig(db)
	identity, err := loadIdentity(db, cfg.SIP.IdentityFile)
	if err != nil {
		logger.Error("no telephony identity", zap.Error(err))
		return
	}
	server, err := sip1.NewSipServer(uaConfig, identity)
	if err != nil {
		logger.Error("sip server setup failed", zap.Error(err))
		return
	}
	defer server.Close()
	if err := server.Start(ctx); err != nil {
		logger.Error("sip server start failed", zap.Error(err))
		return
	}

	// 8. Conversation engine
	hooks.Register(engine.Hooks, hooks.Deps{
		DB:             db,
		MusicFile:      cfg.Hooks.MusicFile,
		MusicDuration:  cfg.Hooks.MusicDuration,
		OperatorNumber: cfg.Hooks.OperatorNumber,
		ForwardTimeout: cfg.Hooks.ForwardTimeout,
	})

	gateway, err := llm.NewGatewayFromConfig(cfg, logrus.StandardLogger())
	if err != nil {
		logger.Error("gateway setup failed", zap.Error(err))
		return
	}
	defer gateway.Close()
	retrying := llm.WithRetry(gateway, llm.RetryPolicy{
		Retries: cfg.Engine.GatewayRetries,
		Backoff: cfg.Engine.GatewayBackoff,
		Timeout: cfg.Engine.GatewayTimeout,
	}, logrus.StandardLogger())

	scripts := conversation.NewManager(db)
	model, err := scripts.LoadFile(cfg.Engine.ConversationFile)
	if err != nil {
		logger.Error("conversation load failed",
			zap.String("file", cfg.Engine.ConversationFile),
			zap.Error(err))
		return
	}

	// 9. Session pool
	pool, err := call.NewPool(server, retrying, call.PoolConfig{
		NumLines:    cfg.SIP.NumLines,
		Engine:      engine.OptionsFromConfig(cfg.Engine),
		CacheSize:   cfg.Audio.CacheSize,
		CacheDir:    cfg.Audio.CacheDir,
		VAD:         vadConfig(cfg.Audio),
		RingTimeout: cfg.Campaign.RingTimeout,
		ForwardWait: cfg.Engine.ForwardWait,
	})
	if err != nil {
		logger.Error("pool setup failed", zap.Error(err))
		return
	}
	pool.OnResult(func(r call.Result) {
		if err := uaConfig.UpdateCall(r.CallID, func(record *models.CallRecord) {
			applyResult(record, r)
		}); err != nil {
			logger.Warn("call record not updated", zap.String("callId", r.CallID), zap.Error(err))
		}
	})
	if err := pool.StartListening(ctx, model); err != nil {
		logger.Error("listening failed", zap.Error(err))
		return
	}

	// 10. HTTP API
	handlers := api.NewHandlers(api.Options{
		Pool:    pool,
		DB:      db,
		Scripts: scripts,
		Campaign: campaign.Config{
			MaxAttempts:    cfg.Campaign.MaxAttempts,
			CallsPerSecond: cfg.Campaign.CallsPerSecond,
			TranscriptDir:  cfg.Campaign.TranscriptDir,
		},
		Recorder:     uaConfig,
		Registration: func() interface{} { return server.Status() },
	})
	router := api.NewRouter(cfg.Server.Mode)
	handlers.Register(router, cfg.Server.APIPrefix)

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: router}
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	handlers.Close()
	if err := pool.StopListening(shutdownCtx); err != nil {
		logger.Warn("stop listening", zap.Error(err))
	}
	if err := server.Unregister(shutdownCtx); err != nil {
		logger.Warn("unregister", zap.Error(err))
	}
}

// loadIdentity prefers the identity file and falls back to the default
// identity stored in the database.
func loadIdentity(db *gorm.DB, path string) (*ua.Identity, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return ua.LoadIdentity(path)
		}
	}
	stored, err := models.GetDefaultTelephonyIdentity(db)
	if err != nil {
		return nil, err
	}
	identity := ua.IdentityFromModel(stored)
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	return identity, nil
}

func vadConfig(cfg config.AudioConfig) audio.VADConfig {
	vad := audio.DefaultVADConfig()
	if cfg.SilenceThreshold > 0 {
		vad.SilenceThreshold = int16(cfg.SilenceThreshold)
	}
	if cfg.EndOfSpeech > 0 {
		vad.EndOfSpeech = cfg.EndOfSpeech
	}
	if cfg.MaxUtterance > 0 {
		vad.MaxUtterance = cfg.MaxUtterance
	}
	return vad
}

// applyResult copies the conversation result onto the signalling record.
func applyResult(record *models.CallRecord, r call.Result) {
	record.Line = r.Line
	record.Conversation = r.Conversation
	record.Outcome = r.Outcome.Status.String()
	record.FailureKind = string(r.Outcome.Kind)
	if r.Outcome.Err != nil {
		record.ErrorMessage = r.Outcome.Err.Error()
	}
	record.Information = models.Information(r.Information)
	record.Transcript = make(models.Transcript, 0, len(r.Transcript))
	for _, e := range r.Transcript {
		record.Transcript = append(record.Transcript, models.TranscriptEntry{
			Role:      e.Role,
			Content:   e.Content,
			Timestamp: e.Timestamp,
		})
	}
}
