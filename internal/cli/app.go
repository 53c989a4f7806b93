package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"time"

	"github.com/txlens/txlens/pkg/backend/clickhouse"
	"github.com/txlens/txlens/pkg/backend/duck"
	"github.com/txlens/txlens/pkg/catalog"
	"github.com/txlens/txlens/pkg/config"
	"github.com/txlens/txlens/pkg/confirm"
	"github.com/txlens/txlens/pkg/connection"
	"github.com/txlens/txlens/pkg/executor"
	"github.com/txlens/txlens/pkg/format"
	"github.com/txlens/txlens/pkg/llm"
	"github.com/txlens/txlens/pkg/pipeline"
	"github.com/txlens/txlens/pkg/reports"
	"github.com/txlens/txlens/pkg/translator"
)

const llmMaxTokens = 1024

// app is a fully wired pipeline and the resources behind it.
type app struct {
	log      *slog.Logger
	cfg      *config.Config
	catalogs catalog.Set
	reports  *reports.Registry
	pipeline *pipeline.Pipeline
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type backend interface {
	executor.Backend
	Dialect() connection.Dialect
	Close() error
}

func newApp(ctx context.Context, log *slog.Logger, cfg *config.Config) (_ *app, err error) {
	a := &app{log: log, cfg: cfg, reports: reports.Default()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.catalogs, err = loadCatalogs(cfg.CatalogDir)
	if err != nil {
		return nil, err
	}
	schemaType := cfg.SchemaType
	if schemaType == "" {
		schemaType = a.catalogs.SchemaTypes()[0]
	}
	cat, ok := a.catalogs.Get(schemaType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrUnknownSchemaType, schemaType)
	}

	tables, err := cfg.Tables()
	if err != nil {
		return nil, fmt.Errorf("failed to load tables: %w", err)
	}

	be, err := openBackend(ctx, log, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = be.Close() })

	client := newLLMClient(log, cfg)

	tcfg := &translator.Config{
		Logger:  log,
		Tables:  tables,
		Dialect: be.Dialect(),
		Assets:  cfg.Assets,
		MaxRows: cfg.MaxRows,
	}
	rewriters := executor.DefaultRewriters()
	if client != nil {
		hinter := translator.NewCachedHinter(translator.NewLLMHinter(log, client), cfg.HintCacheTTL)
		go hinter.Start()
		a.closers = append(a.closers, hinter.Stop)
		tcfg.Hinter = hinter
		rewriters = append(rewriters, executor.NewLLMRewriter(log, client, cat.Describe()))
	}
	tr, err := translator.New(tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create translator: %w", err)
	}

	exec, err := executor.New(&executor.Config{
		Logger:         log,
		Backend:        be,
		Rewriters:      rewriters,
		MaxRetries:     cfg.MaxRetries,
		AttemptTimeout: cfg.AttemptTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	cf, err := confirm.New(&confirm.Config{Logger: log, ShowSQL: cfg.ShowSQL})
	if err != nil {
		return nil, fmt.Errorf("failed to create confirmation formatter: %w", err)
	}
	ff, err := format.New(&format.Config{
		Logger:                 log,
		MaxDisplayRows:         cfg.MaxDisplayRows,
		DownloadLimit:          cfg.DownloadLimit,
		PercentScaleThreshold:  cfg.PercentScaleThreshold,
		ShowPerformanceMetrics: cfg.ShowPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create result formatter: %w", err)
	}

	a.pipeline, err = pipeline.New(&pipeline.Config{
		Logger:            log,
		Catalogs:          a.catalogs,
		Translator:        tr,
		Confirm:           cf,
		Executor:          exec,
		Format:            ff,
		Reports:           a.reports,
		Tables:            tables,
		Dialect:           be.Dialect(),
		DefaultSchemaType: schemaType,
		PendingTTL:        cfg.PendingTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	go a.pipeline.Start()
	a.closers = append(a.closers, a.pipeline.Stop)

	log.Info("txlens: ready", "backend", cfg.Backend, "llm", cfg.LLM, "schema_type", schemaType)
	return a, nil
}

// loadCatalogs returns the built-in catalogs plus any in dir, which may
// replace a built-in schema type.
func loadCatalogs(dir string) (catalog.Set, error) {
	builtin, err := catalog.Default()
	if err != nil {
		return nil, fmt.Errorf("failed to load built-in catalogs: %w", err)
	}
	set := maps.Clone(builtin)
	if dir == "" {
		return set, nil
	}
	extra, err := catalog.LoadFS(os.DirFS(dir), ".")
	if err != nil {
		return nil, err
	}
	maps.Copy(set, extra)
	return set, nil
}

func openBackend(ctx context.Context, log *slog.Logger, cfg *config.Config) (backend, error) {
	switch cfg.Backend {
	case config.BackendClickHouse:
		return clickhouse.New(ctx, &clickhouse.Config{
			Logger:           log,
			Addr:             cfg.ClickhouseAddr,
			Database:         cfg.ClickhouseDatabase,
			Username:         cfg.ClickhouseUsername,
			Password:         cfg.ClickhousePassword,
			DisableTLS:       cfg.ClickhouseDisableTLS,
			MaxExecutionTime: cfg.AttemptTimeout,
		})
	case config.BackendDuckDB:
		db, err := duck.New(ctx, &duck.Config{Logger: log, Path: cfg.DuckDBPath, Attach: cfg.DuckDBAttach, Setup: cfg.DuckDBSetup})
		if err != nil {
			return nil, err
		}
		for table, path := range cfg.DuckDBCSV {
			ref, err := config.ParseTableRef(table)
			if err != nil {
				db.Close()
				return nil, fmt.Errorf("TXLENS_DUCKDB_CSV: %w", err)
			}
			if err := db.LoadCSV(ctx, *ref, path); err != nil {
				db.Close()
				return nil, err
			}
		}
		return db, nil
	}
	return nil, errors.New("unknown backend: " + string(cfg.Backend))
}

func newLLMClient(log *slog.Logger, cfg *config.Config) llm.Client {
	switch cfg.LLM {
	case config.LLMAnthropic:
		return llm.NewAnthropicClient(log, cfg.AnthropicAPIKey, cfg.AnthropicModel, llmMaxTokens)
	case config.LLMOllama:
		return llm.NewOllamaClient(log, cfg.OllamaURL, &http.Client{Timeout: 2 * time.Minute}, cfg.OllamaModel, llmMaxTokens)
	}
	return nil
}
