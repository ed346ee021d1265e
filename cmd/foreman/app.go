package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/foreman/internal/agent"
	"github.com/haasonsaas/foreman/internal/audit"
	"github.com/haasonsaas/foreman/internal/config"
	"github.com/haasonsaas/foreman/internal/conversation"
	"github.com/haasonsaas/foreman/internal/cron"
	"github.com/haasonsaas/foreman/internal/executor"
	"github.com/haasonsaas/foreman/internal/llm"
	"github.com/haasonsaas/foreman/internal/memory"
	"github.com/haasonsaas/foreman/internal/observability"
	"github.com/haasonsaas/foreman/internal/planner"
	"github.com/haasonsaas/foreman/internal/ratelimit"
	"github.com/haasonsaas/foreman/internal/retry"
	"github.com/haasonsaas/foreman/internal/service"
	"github.com/haasonsaas/foreman/internal/sessions"
	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/internal/tasks"
	"github.com/haasonsaas/foreman/internal/tools"
	"github.com/haasonsaas/foreman/internal/tools/drive"
	"github.com/haasonsaas/foreman/internal/tools/rag"
	"github.com/haasonsaas/foreman/internal/tools/slack"
	"github.com/haasonsaas/foreman/internal/tools/workspace"
	"github.com/haasonsaas/foreman/pkg/models"
)

// app holds every wired component for one process.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	store     storage.Store
	audit     *audit.Sink
	tools     *tools.Registry
	executor  *executor.Executor
	engine    *agent.Engine
	service   *service.Service
	runner    *tasks.Runner
	scheduler *cron.Scheduler
	sweeper   *sessions.Sweeper
	loader    *tasks.Loader
	locker    sessions.Locker

	closers []func(context.Context) error
}

// loadConfig loads the file at path, or the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// buildApp wires the store, tools, guardrailed executor, engine, facade and
// scheduler described by cfg.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	a.logger = observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	slog.SetDefault(a.logger)
	for _, notice := range cfg.Notices {
		a.logger.Warn("config upgraded from an older layout", "change", notice)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Insecure:       cfg.Observability.Tracing.Insecure,
	})
	a.tracer = tracer
	a.closers = append(a.closers, shutdownTracer)

	store, err := storage.Open(ctx, storage.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Pool: &storage.SQLConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxLifetime / 2,
			ConnectTimeout:  cfg.Database.ConnectTimeout,
		},
		Migrate: cfg.MigrateEnabled(),
	})
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	networkRetry := applyRetryProfile(retry.Network(), cfg.Retry.Network)
	storeRetry := applyRetryProfile(retry.Store(), cfg.Retry.Store)

	a.audit = audit.NewSink(store, audit.Config{
		BufferSize:   cfg.Audit.BufferSize,
		WriteTimeout: cfg.Audit.WriteTimeout,
		Synchronous:  cfg.Audit.Synchronous,
	}, audit.WithMetrics(a.metrics), audit.WithRetry(storeRetry))
	// Registered after the store so it drains before the store closes.
	a.closers = append(a.closers, func(context.Context) error { return a.audit.Close() })

	integrations, err := a.registerTools(ctx)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	completer, err := a.buildCompleter(networkRetry)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.executor = executor.New(a.tools,
		executor.WithAudit(a.audit),
		executor.WithMetrics(a.metrics),
		executor.WithTracer(a.tracer),
		executor.WithNetworkRetry(networkRetry),
		executor.WithNetworkTools(cfg.Agent.NetworkTools...),
	)

	engineOpts := []agent.Option{
		agent.WithAudit(a.audit),
		agent.WithMetrics(a.metrics),
		agent.WithTracer(a.tracer),
		agent.WithStoreRetry(storeRetry),
	}
	if cfg.Agent.MaxStepRetries != nil {
		engineOpts = append(engineOpts, agent.WithMaxStepRetries(*cfg.Agent.MaxStepRetries))
	}
	a.engine = agent.NewEngine(a.executor, store, engineOpts...)

	if err := a.buildLocker(); err != nil {
		a.close(ctx)
		return nil, err
	}

	recall := memory.NewRecall(store, memory.WithLogger(a.logger.With("component", "memory")))

	var plan planner.Planner = planner.FallbackPlanner{}
	var classifier conversation.Classifier = conversation.HeuristicClassifier{}
	if completer != nil {
		llmOpts := []planner.LLMOption{planner.WithContextProvider(recall)}
		if cfg.LLM.Model != "" {
			llmOpts = append(llmOpts, planner.WithModel(cfg.LLM.Model))
		}
		plan = planner.WithFallback(planner.NewLLMPlanner(completer, a.tools, llmOpts...), planner.FallbackPlanner{})
		classifier = &conversation.LLMClassifier{Completer: completer, Fallback: conversation.HeuristicClassifier{}}
	}
	machine := conversation.NewMachine(store, classifier,
		conversation.WithConfidenceFloor(cfg.Agent.ConfidenceFloor),
		conversation.WithClarificationLimit(cfg.Agent.ClarificationLimit),
	)

	var limiter *ratelimit.Limiter
	if cfg.RateLimitEnabled() {
		limiter = ratelimit.New(ratelimit.Config{
			Enabled:           true,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		})
	}

	a.service = service.New(store, store, a.tools, a.engine,
		service.WithPlanner(plan),
		service.WithLocker(a.locker),
		service.WithLimiter(limiter),
		service.WithConversation(machine),
		service.WithIntegrations(integrations),
		service.WithAudit(a.audit),
		service.WithMetrics(a.metrics),
		service.WithRecorder(recall),
	)

	a.runner = tasks.NewRunner(a.executor, store, store,
		tasks.WithIntegrations(integrations),
		tasks.WithAudit(a.audit),
	)
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("scheduler timezone: %w", err)
	}
	a.scheduler = cron.NewScheduler(store, a.runner,
		cron.WithLocation(loc),
		cron.WithTickInterval(cfg.Scheduler.TickInterval),
		cron.WithFailureThreshold(cfg.Scheduler.FailureThreshold),
		cron.WithAudit(a.audit),
		cron.WithMetrics(a.metrics),
		cron.WithStoreRetry(storeRetry),
	)

	a.sweeper = sessions.NewSweeper(store, sessions.SweeperConfig{
		Expiry:    cfg.Sessions.Expiry,
		Interval:  cfg.Sessions.SweepInterval,
		BatchSize: cfg.Sessions.SweepBatch,
	}, sessions.WithAudit(a.audit), sessions.WithMetrics(a.metrics), sessions.WithLocker(a.locker))

	if dir := strings.TrimSpace(cfg.Workflows.Dir); dir != "" {
		a.loader = tasks.NewLoader(dir, store)
	}

	a.logger.Info("foreman initialized",
		"database", cfg.Database.Driver,
		"tools", len(a.tools.List(tools.ListOptions{})),
		"llm_provider", cfg.LLM.Provider,
		"slack", integrations.Slack,
		"drive", integrations.Drive,
	)
	return a, nil
}

// registerTools fills the registry and reports which integrations are
// connected.
func (a *app) registerTools(ctx context.Context) (models.Integrations, error) {
	var integrations models.Integrations
	a.tools = tools.NewRegistry()
	if err := workspace.Register(a.tools, a.store); err != nil {
		return integrations, fmt.Errorf("register workspace tools: %w", err)
	}
	if err := rag.Register(a.tools, a.store); err != nil {
		return integrations, fmt.Errorf("register knowledge tools: %w", err)
	}

	if a.cfg.Slack.Enabled {
		client := slack.NewClient(slack.Config{
			BotToken: a.cfg.Slack.BotToken,
			APIURL:   a.cfg.Slack.APIURL,
			Timeout:  a.cfg.Slack.Timeout,
		})
		if err := slack.Register(a.tools, client, a.store); err != nil {
			return integrations, fmt.Errorf("register slack tools: %w", err)
		}
		integrations.Slack = true
	}

	if a.cfg.Drive.Enabled {
		driveCfg := drive.Config{
			Bucket:          a.cfg.Drive.Bucket,
			Region:          a.cfg.Drive.Region,
			Endpoint:        a.cfg.Drive.Endpoint,
			Prefix:          a.cfg.Drive.Prefix,
			AccessKeyID:     a.cfg.Drive.AccessKeyID,
			SecretAccessKey: a.cfg.Drive.SecretAccessKey,
			UsePathStyle:    a.cfg.Drive.UsePathStyle,
		}
		client, err := drive.NewS3Client(ctx, driveCfg)
		if err != nil {
			return integrations, fmt.Errorf("drive client: %w", err)
		}
		if err := drive.Register(a.tools, client, driveCfg, a.store); err != nil {
			return integrations, fmt.Errorf("register drive tools: %w", err)
		}
		integrations.Drive = true
	}
	return integrations, nil
}

// buildCompleter returns the configured language model, or nil when none is
// configured.
func (a *app) buildCompleter(networkRetry retry.Options) (llm.Completer, error) {
	provider := strings.ToLower(a.cfg.LLM.Provider)
	if provider == "none" {
		provider = ""
	}
	completer, err := llm.New(llm.Config{
		Provider: provider,
		OpenAI: llm.OpenAIConfig{
			APIKey:       a.cfg.LLM.APIKey,
			BaseURL:      a.cfg.LLM.BaseURL,
			DefaultModel: a.cfg.LLM.Model,
			Timeout:      a.cfg.LLM.Timeout,
		},
		Anthropic: llm.AnthropicConfig{
			APIKey:       a.cfg.LLM.APIKey,
			BaseURL:      a.cfg.LLM.BaseURL,
			DefaultModel: a.cfg.LLM.Model,
			Timeout:      a.cfg.LLM.Timeout,
		},
	})
	if errors.Is(err, llm.ErrNotConfigured) {
		a.logger.Info("no language model configured, using deterministic planner")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	return llm.Instrument(completer, llm.WithMetrics(a.metrics), llm.WithRetry(networkRetry)), nil
}

func (a *app) buildLocker() error {
	if a.cfg.Sessions.Lock != "database" {
		a.locker = sessions.NewLocalLocker()
		return nil
	}
	sqlStore, ok := a.store.(*storage.SQLStore)
	if !ok {
		return fmt.Errorf("sessions.lock database requires a SQL store")
	}
	host, _ := os.Hostname()
	locker, err := sessions.NewDBLocker(sqlStore.DB(), sessions.DBLockerConfig{
		OwnerID: fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8]),
		Dialect: sqlStore.Dialect(),
		TTL:     a.cfg.Sessions.LeaseTTL,
	})
	if err != nil {
		return fmt.Errorf("session locker: %w", err)
	}
	a.locker = locker
	a.closers = append(a.closers, func(context.Context) error { return locker.Close() })
	return nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			slog.Warn("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}

// applyRetryProfile overrides the non-zero fields of p on base.
func applyRetryProfile(base retry.Options, p config.RetryProfileConfig) retry.Options {
	if p.MaxAttempts > 0 {
		base.MaxAttempts = p.MaxAttempts
	}
	if p.InitialDelay > 0 {
		base.Policy.Initial = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		base.Policy.Max = p.MaxDelay
	}
	if p.Factor > 0 {
		base.Policy.Factor = p.Factor
	}
	return base
}

// withApp loads config, builds the app, runs fn and closes the app.
func withApp(ctx context.Context, configPath string, fn func(*app) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))
	return fn(a)
}
