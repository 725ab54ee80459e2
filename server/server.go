package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Hdd5ps/sheet-to-sound/config"
	"github.com/Hdd5ps/sheet-to-sound/core/auth"
	"github.com/Hdd5ps/sheet-to-sound/core/library"
	"github.com/Hdd5ps/sheet-to-sound/core/synth"
	"github.com/Hdd5ps/sheet-to-sound/db"
	"github.com/Hdd5ps/sheet-to-sound/logger"
	"github.com/Hdd5ps/sheet-to-sound/model"
	"github.com/Hdd5ps/sheet-to-sound/repository"
	"github.com/Hdd5ps/sheet-to-sound/storage"

	"github.com/gorilla/mux"
)

// Start initializes all collaborators and runs the HTTP server until
// SIGINT/SIGTERM.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogOutputPath,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})

	auth.Init(cfg.JWTSecret, cfg.JWTTTL)

	if err := storage.InitMinio(cfg); err != nil {
		logger.Fatal("failed to initialize MinIO", logger.ErrorField(err))
	}

	if err := db.ConnectRedis(cfg); err != nil {
		logger.Fatal("failed to connect to Redis", logger.ErrorField(err))
	}
	defer db.CloseRedis()

	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("failed to connect to database", logger.ErrorField(err))
	}
	defer db.CloseGormDB()

	if err := db.AutoMigrateModels(&model.User{}); err != nil {
		logger.Fatal("failed to migrate database", logger.ErrorField(err))
	}

	metaStore := repository.NewRedisMetadataStore(db.RedisClient)
	blobs := storage.NewMinioBlobStore(storage.GetMinioClient())

	engine := library.NewEngine(
		repository.NewScoreRepository(metaStore),
		repository.NewConversionRepository(metaStore),
		repository.NewIndexRepository(metaStore),
		blobs,
		library.Config{
			ScoreBucket:   cfg.MinioScoreBucket,
			MediaBucket:   cfg.MinioMediaBucket,
			MaxUploadSize: cfg.MaxUploadSize,
			SignedURLTTL:  cfg.SignedURLTTL,
		},
	)

	processor := synth.NewStubProcessor(blobs, cfg.MinioMediaBucket)
	dispatcher := synth.NewDispatcher(processor, engine.HandleCompletion, cfg.SynthWorkers)
	engine.SetDispatch(dispatcher.Dispatch)

	userRepo := repository.NewGormUserRepository(db.GormDB)
	apiHandler := NewAPIHandler(engine, userRepo, cfg)

	router := mux.NewRouter()

	// CORS middleware
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// Account endpoints
	router.HandleFunc("/signup", apiHandler.SignupHandler).Methods(http.MethodPost)
	router.HandleFunc("/login", apiHandler.LoginHandler).Methods(http.MethodPost)

	// Score and conversion endpoints
	router.HandleFunc("/scores/upload", apiHandler.AuthMiddleware(apiHandler.UploadScoreHandler)).Methods(http.MethodPost)
	router.HandleFunc("/scores/{score_id}/convert", apiHandler.AuthMiddleware(apiHandler.ConvertScoreHandler)).Methods(http.MethodPost)
	router.HandleFunc("/scores/{score_id}", apiHandler.AuthMiddleware(apiHandler.DeleteScoreHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/conversions/{conversion_id}", apiHandler.AuthMiddleware(apiHandler.GetConversionHandler)).Methods(http.MethodGet)
	router.HandleFunc("/conversions/{conversion_id}/ws", apiHandler.AuthMiddleware(apiHandler.ConversionSocketHandler)).Methods(http.MethodGet)
	router.HandleFunc("/library", apiHandler.AuthMiddleware(apiHandler.LibraryHandler)).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", logger.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", logger.ErrorField(err))
	}

	// Let queued jobs drain before exiting; in-flight jobs are not
	// cancellable once dispatched.
	dispatcher.Stop()

	logger.Info("server stopped")
}
