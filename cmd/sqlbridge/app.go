package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sqlbridge/internal/bigquery"
	"sqlbridge/internal/config"
	"sqlbridge/internal/events"
	"sqlbridge/internal/llm"
	"sqlbridge/internal/logging"
	"sqlbridge/internal/store"
	"sqlbridge/internal/tablemap"
	"sqlbridge/internal/usage"
	"sqlbridge/internal/workflow"
)

// app holds the wired service graph shared by serve and convert.
type app struct {
	cfg     *config.Config
	bq      *bigquery.Service
	mapper  *tablemap.Mapper
	watcher *tablemap.Watcher
	bus     *events.Bus
	store   *store.Store
	tracker *usage.Tracker
	engine  *workflow.Engine
}

// loadConfig reads and validates the configuration and brings up file
// logging. Used alone by the commands that never touch LLM or BigQuery.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dir := cfg.Logging.File
	if dir == "" {
		dir = "logs"
	}
	if err := logging.Initialize(dir, logging.Options{
		Enabled:    true,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.Format == "json",
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize file logging: %w", err)
	}
	if err := logging.InitAudit(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit log: %w", err)
	}
	return cfg, nil
}

// buildApp wires the full conversion stack. BigQuery is optional: without
// a configured project the validator falls back to the LLM plausibility
// mode and execution/verification stay unavailable.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	a.bus = events.NewBus()
	a.bus.SetRecentLimit(cfg.Events.RecentLimit)

	if cfg.Store.ArchiveRuns {
		a.store, err = store.New(cfg.Store.Path)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to open run archive: %w", err)
		}
	}

	a.tracker = usage.NewTracker()
	if a.store != nil {
		a.tracker.AddSink(a.store)
	}

	a.mapper = tablemap.New()
	if cfg.TableMap.CSVPath != "" {
		if err := a.mapper.Load(cfg.TableMap.CSVPath); err != nil {
			logger.Warn("table mapping unavailable", zap.String("path", cfg.TableMap.CSVPath), zap.Error(err))
		} else if cfg.TableMap.Watch {
			a.watcher, err = tablemap.NewWatcher(cfg.TableMap.CSVPath, a.mapper)
			if err != nil {
				logger.Warn("table mapping hot reload unavailable", zap.Error(err))
			} else if err := a.watcher.Start(ctx); err != nil {
				logger.Warn("table mapping watcher failed to start", zap.Error(err))
				a.watcher = nil
			}
		}
	}

	var verifyPairs map[string]string
	if cfg.TableMap.VerifyCSVPath != "" {
		verifyPairs, err = tablemap.LoadVerifyPairs(cfg.TableMap.VerifyCSVPath)
		if err != nil {
			logger.Warn("ground truth pairs unavailable", zap.String("path", cfg.TableMap.VerifyCSVPath), zap.Error(err))
		}
	}

	client, err := llm.New(ctx, cfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	deps := workflow.Deps{
		Translator:  llm.NewTranslator(client, &cfg.LLM),
		Checker:     llm.NewSemanticChecker(client, &cfg.LLM),
		Mapper:      a.mapper,
		VerifyPairs: verifyPairs,
		Bus:         a.bus,
		Usage:       a.tracker,
	}
	if a.store != nil {
		deps.Archive = a.store
	}

	if cfg.Workflow.ValidationMode == workflow.ValidationModeDryRun {
		a.bq, err = bigquery.New(ctx, cfg)
		if err != nil {
			logger.Warn("BigQuery unavailable, falling back to LLM validation", zap.Error(err))
			cfg.Workflow.ValidationMode = workflow.ValidationModeLLM
		}
	}

	if a.bq != nil {
		deps.Validator = a.bq
		deps.Executor = a.bq
		deps.Truth = a.bq
		deps.Schema = a.bq

		if cfg.BigQuery.UsageLogTable != "" {
			sink, err := bigquery.NewUsageSink(a.bq, cfg.BigQuery.UsageLogTable)
			if err != nil {
				logger.Warn("usage log table unavailable", zap.Error(err))
			} else {
				a.tracker.AddSink(sink)
			}
		}
	} else {
		deps.Validator = llm.NewPlausibilityValidator(client, &cfg.LLM)
		if cfg.Workflow.ExecutionEnabled {
			a.close()
			return nil, fmt.Errorf("execution enabled but BigQuery is not available")
		}
	}

	a.engine, err = workflow.New(cfg, deps)
	if err != nil {
		a.close()
		return nil, err
	}

	logger.Info("sqlbridge ready",
		zap.String("validation_mode", cfg.Workflow.ValidationMode),
		zap.Int("max_retries", cfg.Workflow.MaxRetries),
		zap.String("chunking_mode", cfg.Chunking.Mode),
		zap.Bool("execution_enabled", cfg.Workflow.ExecutionEnabled),
		zap.Int("table_mappings", a.mapper.Size()))
	return a, nil
}

func (a *app) close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.bq != nil {
		_ = a.bq.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.bus != nil {
		a.bus.Close()
	}
}
