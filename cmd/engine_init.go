package main

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/bounce"
	"github.com/sells-group/outreach-engine/internal/classify"
	"github.com/sells-group/outreach-engine/internal/lifecycle"
	"github.com/sells-group/outreach-engine/internal/monitoring"
	"github.com/sells-group/outreach-engine/internal/queue"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/internal/transport"
	"github.com/sells-group/outreach-engine/internal/warmup"
	anthropicpkg "github.com/sells-group/outreach-engine/pkg/anthropic"
)

// engineEnv holds the wired components shared by the serve, warmup, and
// monitor commands.
type engineEnv struct {
	Store      store.Store
	Queue      *queue.Queue
	Runner     *queue.Runner
	Scheduler  *warmup.Scheduler
	Sender     *warmup.Sender
	Cascader   *warmup.Cascader
	Machine    *lifecycle.Machine
	Classifier *classify.Classifier
	Escalator  *bounce.Escalator
	Checker    *monitoring.Checker
	Collector  *monitoring.Collector
	Mailers    warmup.MailerSource
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEngine validates config for the given mode, opens the store, runs
// migrations, and wires every component. Callers should defer env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	clk := clock.New()
	// Shared between the scheduler loop and concurrent job handlers, so it
	// must be the locked variant.
	rnd := warmup.NewRand(rand.Uint64(), rand.Uint64())

	q := queue.New(st, clk)
	runner := queue.NewRunner(st, clk, queue.RunnerConfig{
		PollInterval: time.Duration(cfg.Queue.PollIntervalSecs) * time.Second,
		BatchSize:    cfg.Queue.BatchSize,
		Concurrency:  cfg.Queue.Concurrency,
	})

	templates, err := loadTemplates()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	mailers := transport.NewSMTPSource(st, transport.SMTPConfig{
		Host:           cfg.SMTP.Host,
		Port:           cfg.SMTP.Port,
		Username:       cfg.SMTP.Username,
		Password:       cfg.SMTP.Password,
		SendsPerMinute: cfg.SMTP.SendsPerMinute,
		MaxRetries:     uint64(cfg.SMTP.MaxRetries),
	}, resilience.NewProviderBreakers(resilience.DefaultCircuitBreakerConfig()))

	cascader := warmup.NewCascader(st)
	dedup := warmup.NewDeduplicator(st, rnd)
	scheduler := warmup.NewScheduler(st, q, cascader, clk, rnd, warmup.SchedulerConfig{
		MaxSendAttempts: cfg.Warmup.MaxSendAttempts,
	})
	sender := warmup.NewSender(st, q, dedup, templates, cascader, mailers, clk, rnd)
	sender.Register(runner)

	machine := lifecycle.New(st)

	var classifier *classify.Classifier
	if cfg.Anthropic.Key != "" {
		classifier = classify.New(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model)
	} else {
		zap.L().Warn("anthropic key not set, reply classification runs rules-only")
		classifier = classify.New(nil, "")
	}

	evaluator := monitoring.NewEvaluator(st, cascader)
	checker := monitoring.NewChecker(st, mailers, cascader, evaluator, monitoring.NewAlerter(cfg.Monitoring), clk, cfg.Monitoring)

	return &engineEnv{
		Store:      st,
		Queue:      q,
		Runner:     runner,
		Scheduler:  scheduler,
		Sender:     sender,
		Cascader:   cascader,
		Machine:    machine,
		Classifier: classifier,
		Escalator:  bounce.New(st, machine),
		Checker:    checker,
		Collector:  monitoring.NewCollector(st),
		Mailers:    mailers,
	}, nil
}

func loadTemplates() (*warmup.TemplateSet, error) {
	if cfg.Warmup.TemplatesPath == "" {
		return warmup.DefaultTemplates()
	}
	tmpl, err := warmup.LoadTemplates(cfg.Warmup.TemplatesPath)
	if err != nil {
		return nil, eris.Wrap(err, "load warmup templates")
	}
	return tmpl, nil
}
