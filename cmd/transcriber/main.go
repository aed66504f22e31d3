package main

import (
	"context"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/workerpool"
	"github.com/pitabwire/util"

	tconfig "github.com/voicetyped/transcriber/config"
	"github.com/voicetyped/transcriber/internal/jobs"
	"github.com/voicetyped/transcriber/internal/speech/engine"
	"github.com/voicetyped/transcriber/internal/speech/registry"
	"github.com/voicetyped/transcriber/pkg/events"
	"github.com/voicetyped/transcriber/pkg/profiles"
	"github.com/voicetyped/transcriber/pkg/store"

	// Register speech backends via init().
	_ "github.com/voicetyped/transcriber/internal/speech/backends/deepgram"
	_ "github.com/voicetyped/transcriber/internal/speech/backends/google"
	_ "github.com/voicetyped/transcriber/internal/speech/backends/openai"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[tconfig.TranscriberConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			log.Printf("warning: sentry init failed: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	eventRef := cfg.GetEventsQueueName()
	eventURL := cfg.GetEventsQueueURL()

	ctx, srv := frame.NewService(
		frame.WithConfig(&cfg),
		frame.WithName("transcriber"),
		frame.WithDatastore(),
		frame.WithRegisterPublisher(eventRef, eventURL),
		frame.WithWorkerPoolOptions(
			workerpool.WithPoolCount(cfg.WorkerPoolCount),
			workerpool.WithSinglePoolCapacity(cfg.WorkerPoolCapacity),
		),
	)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	client, err := registry.ASR.Create(cfg.STTBackend, cfg.BackendConfig())
	if err != nil {
		log.Fatalf("creating %s client: %v", cfg.STTBackend, err)
	}

	engineCfg := cfg.EngineConfig()
	if _, err := engine.New(engineCfg, client); err != nil {
		log.Fatalf("engine config: %v", err)
	}

	repo := store.NewRepository(
		srv.DatastoreManager().GetPool(ctx, "__default__pool_name__"),
	)
	if err := repo.Migrate(ctx); err != nil {
		util.Log(ctx).WithError(err).Error("migrating transcripts table")
	}

	loader := profiles.NewLoader(cfg.ProfilesDir)
	if _, err := loader.LoadAll(); err != nil {
		log.Printf("warning: loading profiles: %v", err)
	} else {
		go func() {
			if err := loader.WatchAndReload(ctx.Done()); err != nil {
				util.Log(ctx).WithError(err).Error("watching profiles")
			}
		}()
	}

	pub := events.NewPublisher(srv.QueueManager(), "transcriber", eventRef)

	subscriber := &jobs.Subscriber{
		Config: engineCfg,
		NewEngine: func(c engine.Config) (jobs.Transcriber, error) {
			e, err := engine.New(c, client)
			if err != nil {
				return nil, err
			}
			return e, nil
		},
		Profiles: loader,
		Store:    repo,
		Events:   pub,
		Pool:     pool,
	}

	srv.Init(ctx,
		frame.WithRegisterSubscriber(cfg.JobsQueueName, cfg.JobsQueueURL, subscriber),
	)

	if err := srv.Run(ctx, ""); err != nil {
		sentry.CaptureException(err)
		log.Fatalf("service exited: %v", err)
	}
}
