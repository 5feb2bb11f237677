package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/Veraticus/redactor/internal/blob"
	"github.com/Veraticus/redactor/internal/cache"
	"github.com/Veraticus/redactor/internal/config"
	"github.com/Veraticus/redactor/internal/detector"
	"github.com/Veraticus/redactor/internal/job"
	"github.com/Veraticus/redactor/internal/llm"
	"github.com/Veraticus/redactor/internal/metrics"
	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/notify"
	"github.com/Veraticus/redactor/internal/policy"
	"github.com/Veraticus/redactor/internal/processor"
	"github.com/Veraticus/redactor/internal/service"
	"github.com/Veraticus/redactor/internal/storage"
	"github.com/Veraticus/redactor/internal/vision"
)

// app holds the long-lived components a command needs.
type app struct {
	settings *config.Settings
	storage  *storage.SQLiteStorage
	redis    *redis.Client
	logger   *slog.Logger
}

func loadSettings() (*config.Settings, error) {
	settings, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// openApp loads settings and opens the job database and, when configured, Redis.
func openApp(ctx context.Context) (*app, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}

	db, err := storage.NewSQLiteStorage(settings.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a := &app{settings: settings, storage: db, logger: slog.Default()}

	if settings.Redis.Enabled() {
		client, err := cache.NewRedisClient(cache.RedisConfig{
			Address:  settings.Redis.Address,
			Password: settings.Redis.Password,
			DB:       settings.Redis.DB,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis = client
	}

	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.storage != nil {
		errs = append(errs, a.storage.Close())
	}
	return errors.Join(errs...)
}

func (a *app) findingCache() cache.Cache {
	if a.redis != nil {
		return cache.NewRedis(a.redis, cache.RedisConfig{
			Prefix: a.settings.Redis.Prefix,
			TTL:    a.settings.Redis.CacheTTL,
		})
	}
	return cache.NewMemory(a.settings.LLM.CacheTTL)
}

// detectors builds the registry: rules always, text and vision models when configured.
func (a *app) detectors(ctx context.Context) (*detector.Registry, error) {
	rules, err := detector.NewRuleDetector(detector.DefaultPatterns(), a.settings.Terms)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule detector: %w", err)
	}
	list := []detector.Detector{rules}

	if a.settings.LLM.Enabled() {
		client, err := llm.NewClient(llm.Config{
			Provider: a.settings.LLM.Provider,
			APIKey:   a.settings.LLM.APIKey,
			Model:    a.settings.LLM.Model,
			BaseURL:  a.settings.LLM.BaseURL,
			Timeout:  a.settings.LLM.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		svc := llm.NewDetectionService(client, llm.ServiceOptions{
			Logger:       a.logger,
			Instructions: a.settings.LLM.Instructions,
			Categories:   a.settings.LLM.Categories,
		})
		text, err := detector.NewTextModelDetector(svc, detector.ModelOptions{
			Cache:     a.findingCache(),
			Logger:    a.logger,
			Timeout:   a.settings.LLM.Timeout,
			CacheTTL:  a.settings.LLM.CacheTTL,
			RateLimit: a.settings.LLM.RateLimit,
		})
		if err != nil {
			return nil, err
		}
		list = append(list, text)
	}

	if a.settings.Vision.Enabled {
		svc, err := vision.New(ctx, a.settings.Google, vision.Options{
			Logger:            a.logger,
			Scanner:           rules,
			MinFaceConfidence: a.settings.Vision.MinFaceConfidence,
		})
		if err != nil {
			return nil, err
		}
		images, err := detector.NewVisionModelDetector(svc, detector.ModelOptions{
			Logger:    a.logger,
			Timeout:   a.settings.Vision.Timeout,
			RateLimit: a.settings.Vision.RateLimit,
		})
		if err != nil {
			return nil, err
		}
		list = append(list, images)
	}

	return detector.NewRegistry(list...)
}

// policyProcessor loads the policy file, preferring path over the configured one.
func (a *app) policyProcessor(path string, registered []model.DetectorKind) (*policy.Processor, error) {
	if path == "" {
		path = a.settings.Policy
	}
	var file *policy.File
	if path != "" {
		loaded, err := policy.LoadPolicyFile(config.ExpandPath(path))
		if err != nil {
			return nil, err
		}
		file = loaded
	}
	return policy.NewProcessor(model.DefaultConfig(), file, registered), nil
}

func (a *app) notifier() service.Notifier {
	notifiers := notify.Multi{notify.NewLog(a.logger)}
	if a.redis != nil {
		notifiers = append(notifiers, notify.NewRedis(a.redis, a.settings.Redis.Channel))
	}
	return notifiers
}

// runnerOptions are the per-invocation choices for building a runner.
type runnerOptions struct {
	Observer   processor.Observer
	PolicyPath string
}

// runner wires a job runner. The returned metrics are flushed by the caller.
func (a *app) runner(ctx context.Context, opts runnerOptions) (*job.Runner, *metrics.Metrics, error) {
	registry, err := a.detectors(ctx)
	if err != nil {
		return nil, nil, err
	}

	proc, err := processor.New(processor.Config{
		Detectors: registry,
		Observer:  opts.Observer,
		Logger:    a.logger,
		Workers:   a.settings.Workers,
	})
	if err != nil {
		return nil, nil, err
	}

	policies, err := a.policyProcessor(opts.PolicyPath, registry.Kinds())
	if err != nil {
		return nil, nil, err
	}

	staging, err := blob.Open(ctx, a.settings.Store.Staging, a.settings.Google)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open staging store: %w", err)
	}
	var output service.BlobStore
	if a.settings.Store.Output != "" {
		if output, err = blob.Open(ctx, a.settings.Store.Output, a.settings.Google); err != nil {
			return nil, nil, fmt.Errorf("failed to open output store: %w", err)
		}
	}

	m := metrics.New()
	runner, err := job.New(job.Config{
		Processor: proc,
		Policy:    policies,
		Store:     staging,
		Output:    output,
		Storage:   a.storage,
		Notifier:  a.notifier(),
		Metrics:   m,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return runner, m, nil
}

// flushMetrics writes the textfile when one is configured.
func (a *app) flushMetrics(m *metrics.Metrics) {
	if m == nil || a.settings.Metrics == "" {
		return
	}
	if err := m.WriteTextfile(a.settings.Metrics); err != nil {
		a.logger.Warn("Failed to write metrics textfile", "path", a.settings.Metrics, "error", err)
	}
}
