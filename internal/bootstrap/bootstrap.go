// Package bootstrap provides dependency initialization for the PhotoCull API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/photocull-api/internal/catalog"
	"github.com/maauso/photocull-api/internal/config"
	"github.com/maauso/photocull-api/internal/pipeline"
	"github.com/maauso/photocull-api/internal/storage"
	"github.com/maauso/photocull-api/internal/vision"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Service *pipeline.Service
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize the record store
	repo, err := initRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize the blob store
	blobs, err := initBlobStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize the vision provider client
	visionClient, err := vision.NewClient(cfg.GeminiModel, vision.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("create vision client: %w", err)
	}

	// Scratch directory for in-flight archive uploads
	scratch, err := storage.NewScratch(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	svc := pipeline.NewService(
		repo,
		blobs,
		visionClient,
		scratch,
		logger,
		pipeline.WithLimits(pipeline.Limits{
			Label:             cfg.LabelConcurrency,
			ClusterCompare:    cfg.ClusterCompareConcurrency,
			MergeCompare:      cfg.MergeCompareConcurrency,
			Match:             cfg.MatchConcurrency,
			BucketTournaments: cfg.BucketTournaments,
			Enhance:           cfg.EnhanceConcurrency,
		}),
	)

	return &Dependencies{
		Service: svc,
	}, nil
}

// initRepository creates the record store backend based on configuration.
func initRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (catalog.Repository, error) {
	if cfg.PostgresEnabled() {
		repo, err := catalog.NewPostgresRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("create postgres repository: %w", err)
		}
		logger.Info("postgres repository configured")
		return repo, nil
	}

	logger.Info("in-memory repository configured")
	return catalog.NewMemoryRepository(), nil
}

// initBlobStore creates the appropriate blob store backend based on configuration.
func initBlobStore(cfg *config.Config, logger *slog.Logger) (storage.BlobStore, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			PublicURL:       cfg.S3PublicURL,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Store(s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 store: %w", err)
		}
		logger.Info("S3 blob store configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStore(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local store: %w", err)
	}
	logger.Info("local blob store configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
