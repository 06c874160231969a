package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/debooklet/internal/dispatcher"
	"github.com/local/debooklet/internal/metrics"
	"github.com/local/debooklet/internal/orchestrator"
	"github.com/local/debooklet/internal/queue"
	"github.com/local/debooklet/internal/statuscheck"
	"github.com/local/debooklet/internal/storage"
	"github.com/local/debooklet/internal/store"
)

func newServeCommand(g *globalFlags) *cobra.Command {
	var port string
	var shutdownTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP job API and conversion workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != "" {
				g.cfg.HTTP.Port = port
			}
			return serve(cmd.Context(), g, shutdownTimeout)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (default $PORT or 8080)")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "grace period for in-flight conversions")
	return cmd
}

func serve(ctx context.Context, g *globalFlags, shutdownTimeout time.Duration) error {
	cfg := g.cfg
	metrics.Init()

	// Queue
	rq, err := queue.NewRedisQueue(cfg.Queue.RedisURL, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.PollInterval)
	if err != nil {
		return err
	}
	defer rq.Close()

	// Status store
	rs, err := store.NewRedisStatus(cfg.Queue.RedisURL, cfg.Worker.ResultTTL)
	if err != nil {
		return err
	}
	defer rs.Close()

	fetcher := &storage.Fetcher{
		HTTP:     &http.Client{Timeout: cfg.Worker.FetchTimeout},
		MaxBytes: cfg.HTTP.MaxUploadMB << 20,
	}
	results := &storage.Results{Dir: cfg.Storage.ResultDir, Bucket: cfg.Storage.S3Bucket, Prefix: cfg.Storage.S3Prefix}
	checks := statuscheck.Options{Redis: rq, S3Bucket: cfg.Storage.S3Bucket}

	if s3c, err := newS3Client(ctx, cfg.Storage); err != nil {
		log.Warn().Err(err).Msg("s3 unavailable; s3:// inputs and outputs will be rejected")
	} else {
		fetcher.S3 = s3c
		results.S3 = s3c
		checks.S3 = s3c
	}

	orch := orchestrator.New(orchestrator.Config{
		UploadDir:      cfg.Storage.UploadDir,
		MaxUploadBytes: cfg.HTTP.MaxUploadMB << 20,
		APITokenHash:   cfg.HTTP.APITokenHash,
		FetchTimeout:   cfg.Worker.FetchTimeout,
	}, orchestrator.Dependencies{
		Queue:   rq,
		Status:  rs,
		Fetcher: fetcher,
		Health:  statuscheck.New(checks),
	})

	var disp *dispatcher.Worker
	if cfg.Worker.Enabled {
		disp = dispatcher.New(dispatcher.Config{
			Concurrency:       cfg.Worker.Concurrency,
			ConversionTimeout: cfg.Worker.ConversionTimeout,
			FetchTimeout:      cfg.Worker.FetchTimeout,
			MaxAttempts:       cfg.Worker.MaxAttempts,
			RetryBaseDelay:    cfg.Worker.RetryBaseDelay,
			ResultTTL:         cfg.Worker.ResultTTL,
		}, dispatcher.Dependencies{
			Queue:   rq,
			Status:  rs,
			Fetcher: fetcher,
			Results: results,
		})
		disp.Start()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           orch.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("http server error")
	}

	// Graceful shutdown
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(sctx)
	if disp != nil {
		if err := disp.Stop(sctx); err != nil {
			log.Warn().Err(err).Msg("workers did not drain in time; in-flight jobs requeued")
		}
	}
	log.Info().Msg("shutdown complete")
	return serveErr
}
