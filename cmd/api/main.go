package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/config"
	"github.com/noah-isme/gema-exam-api/internal/database"
	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/handler"
	"github.com/noah-isme/gema-exam-api/internal/middleware"
	"github.com/noah-isme/gema-exam-api/internal/repository"
	"github.com/noah-isme/gema-exam-api/internal/router"
	"github.com/noah-isme/gema-exam-api/internal/service"
	"github.com/noah-isme/gema-exam-api/pkg/ai"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "gema-exam",
		Short:        "Exam scoring and correction API",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, migrateCmd(), seedCmd())

	// serve is the default command
	root.RunE = serve.RunE

	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			if _, err := openDatabase(cfg); err != nil {
				return err
			}
			logger.Info().Str("driver", cfg.DatabaseDriver).Msg("migrations applied")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import an exam fixture from a JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("file")
			if path == "" {
				return fmt.Errorf("--file is required")
			}

			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}

			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read fixture: %w", err)
			}
			var fixture dto.ExamSeedRequest
			if err := json.Unmarshal(raw, &fixture); err != nil {
				return fmt.Errorf("decode fixture: %w", err)
			}

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}

			exams := service.NewExamService(repository.NewExamRepository(db), nil, 0, logger)
			seeder := service.NewSeedService(exams, validator.New(validator.WithRequiredStructEnabled()), cfg.SeedEnabled, cfg.SeedToken, logger)

			result, err := seeder.ImportExam(cmd.Context(), fixture)
			if err != nil {
				return err
			}

			logger.Info().Uint("exam_id", result.ID).Int("questions", result.Questions).Str("scoring_method", result.ScoringMethod).Msg("exam imported")
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "Path to the exam fixture JSON")
	return cmd
}

func bootstrap() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Logger{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", cfg.AppName).Logger()
	if cfg.AppEnv == "development" {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	return cfg, logger, nil
}

func openDatabase(cfg config.Config) (*gorm.DB, error) {
	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func buildGrader(cfg config.Config, logger zerolog.Logger) (ai.Grader, error) {
	var grader ai.Grader

	switch cfg.AIProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Warn().Msg("openai api key missing, AI correction disabled")
			return nil, nil
		}
		g, err := ai.NewOpenAIGrader(ai.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.AIModel,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		grader = g
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			logger.Warn().Msg("anthropic api key missing, AI correction disabled")
			return nil, nil
		}
		g, err := ai.NewAnthropicGrader(ai.AnthropicConfig{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.AIModel,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		grader = g
	case "", "none":
		logger.Info().Msg("AI correction disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.AIProvider)
	}

	return ai.WithTimeout(grader, cfg.GradingTimeout), nil
}

func runServe(parent context.Context, cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(ctx, cfg.RedisURL, cfg.AppName)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer natsConn.Drain()
	}

	grader, err := buildGrader(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to configure grader: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	examRepo := repository.NewExamRepository(db)
	submissionRepo := repository.NewExamSubmissionRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	examService := service.NewExamService(examRepo, redisClient, cfg.ExamCacheTTL, logger)
	notificationService := service.NewNotificationService(notificationRepo, redisClient, cfg.RealtimeChannel, natsConn, validate, logger)
	notificationService.Start(ctx)
	correctionService := service.NewCorrectionService(examService, submissionRepo, grader, notificationService, validate, service.CorrectionConfig{
		DefaultRigor: cfg.DefaultRigor,
		Concurrency:  cfg.GradingConcurrency,
	}, logger)
	submissionService := service.NewExamSubmissionService(examService, submissionRepo, correctionService, validate, logger)
	seedService := service.NewSeedService(examService, validate, cfg.SeedEnabled, cfg.SeedToken, logger)

	bulkLimiter := middleware.RateLimit("exam-bulk-ai", cfg.BulkRateLimit, time.Minute)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AccessLog: cfg.AppEnv == "development"})
	router.Register(app, cfg, router.Dependencies{
		ExamSubmissionHandler: handler.NewExamSubmissionHandler(submissionService, logger),
		CorrectionHandler:     handler.NewCorrectionHandler(correctionService, submissionService, bulkLimiter, logger),
		NotificationHandler:   handler.NewNotificationHandler(notificationService, logger, cfg.NotificationKeepAlive),
		SeedHandler:           handler.NewSeedHandler(seedService, logger),
		JWTMiddleware:         middleware.JWTProtected(cfg.JWTSecret),
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress()).Str("ai_provider", cfg.AIProvider).Msg("server starting")
		errCh <- app.Listen(cfg.HTTPAddress())
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
	return nil
}
