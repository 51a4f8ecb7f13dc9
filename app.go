package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cypher/agent"
	"cypher/chat"
	"cypher/config"
	"cypher/core"
	"cypher/dashboard"
	"cypher/features"
	"cypher/features/internet"
	"cypher/features/memory"
	"cypher/features/twitter"
	"cypher/model"
	"cypher/policy"
	"cypher/provider"
	"cypher/storage"
	"cypher/telemetry"
	"cypher/terminal"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// app holds everything the run modes share.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	logs       *dashboard.LogBuffer
	logFile    *os.File
	telemetry  telemetry.Shutdown
	store      storage.Store
	archive    *storage.Archive
	sessionID  string
	recorder   *storage.Recorder
	registry   *terminal.Registry
	dispatcher *terminal.Dispatcher
}

func setup(ctx context.Context, mode string) (a *app, err error) {
	if err := config.LoadEnvFile(""); err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	config.InitDebugLog(cfg.DataDir())

	a = &app{cfg: cfg, sessionID: uuid.New().String()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// The REPL owns the terminal, so its logs go to a file.
	var logOut io.Writer = os.Stderr
	if mode == "repl" {
		path := filepath.Join(cfg.DataDir(), "cypher.log")
		a.logFile, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logOut = a.logFile
	}

	handler, err := config.NewLogHandler(logOut, cfg.Log)
	if err != nil {
		return nil, err
	}
	a.logs = dashboard.NewLogBuffer(dashboard.DefaultLogCapacity)
	a.logger = slog.New(a.logs.Handler(handler))
	slog.SetDefault(a.logger)

	a.telemetry, err = telemetry.Init(ctx, cfg.Telemetry, Version)
	if err != nil {
		return nil, err
	}

	a.store, err = storage.Open(ctx, storage.Config{
		Driver:  cfg.Storage.Driver,
		DSN:     cfg.Storage.DSN,
		DataDir: cfg.DataDir(),
		Logger:  a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a.archive, err = storage.NewArchive(cfg.DataDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript archive: %w", err)
	}
	a.recorder = storage.NewRecorder(a.store, a.archive, a.sessionID, a.logger)

	a.registry = terminal.NewRegistry(a.logger)
	a.registry.Register(terminal.HelpCommand(a.registry))
	feats, err := a.features()
	if err != nil {
		return nil, err
	}
	if err := features.Load(ctx, a.registry, feats...); err != nil {
		return nil, err
	}

	gate, err := policy.Load(ctx, cfg.Policy.File, a.logger)
	if err != nil {
		return nil, err
	}
	a.dispatcher = terminal.NewDispatcher(a.registry,
		terminal.WithSink(terminal.MultiSink{terminal.SlogSink{Logger: a.logger}, a.recorder}),
		terminal.WithGate(gate),
		terminal.WithDispatcherLogger(a.logger),
	)

	a.logger.Info("cypher ready",
		"version", Version,
		"mode", mode,
		"session", a.sessionID,
		"commands", a.registry.Len(),
		"storage", cfg.Storage.Driver)
	return a, nil
}

// features returns the enabled features in settings order.
func (a *app) features() ([]features.Feature, error) {
	var out []features.Feature
	for _, name := range a.cfg.Features.Enabled {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case internet.Name:
			searcher, err := internet.NewPerplexity(os.Getenv("PERPLEXITY_API_KEY"), os.Getenv("PERPLEXITY_BASE_URL"), "")
			if err != nil {
				return nil, fmt.Errorf("feature %s: %w", name, err)
			}
			out = append(out, internet.New(searcher))
		case twitter.Name:
			username := os.Getenv("TWITTER_USERNAME")
			if username == "" {
				username = a.cfg.Agent
			}
			out = append(out, twitter.New(twitter.NewLocalClient(a.store, username),
				twitter.WithCooldown(a.cfg.Features.TweetCooldown.Std())))
		case memory.Name:
			out = append(out, memory.New(a.store, a.cfg.Agent, a.sessionID))
		default:
			return nil, fmt.Errorf("unknown feature %q", name)
		}
	}
	return out, nil
}

// newAgent builds the agent defined as id, reporting to observer.
func (a *app) newAgent(ctx context.Context, id string, observer agent.Observer) (*agent.Agent, error) {
	file, err := config.LoadAgent(a.cfg.AgentsDir(), id)
	if err != nil {
		return nil, fmt.Errorf("load agent definition: %w", err)
	}

	p, err := model.ParseProvider(file.Client)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", id, err)
	}
	clientCfg, err := provider.ConfigFromEnv(p, file.Model)
	if err != nil {
		return nil, err
	}
	client, err := provider.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, err
	}
	if pinger, ok := client.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(ctx); err != nil {
			a.logger.Warn("model server not reachable yet", "provider", p, "error", err)
		}
	}
	client = provider.WrapRetry(client, provider.RetryConfig{
		MaxAttempts: a.cfg.Model.MaxRetries + 1,
		Backoff:     a.cfg.Model.RetryBackoff.Std(),
	})

	name := file.Name
	if name == "" {
		name = id
	}
	return agent.New(agent.Definition{
		Name:              name,
		Description:       file.Description,
		Provider:          p,
		Model:             clientCfg.Model,
		SystemPrompt:      file.SystemPrompt,
		DynamicVariables:  file.DynamicVariables,
		OutputSchema:      file.OutputSchema,
		Tools:             file.Tools,
		ToolChoice:        file.ToolChoice,
		ParallelToolCalls: file.ParallelToolCalls,
	}, client, agent.WithObserver(observer), agent.WithLogger(a.logger))
}

// runAgent runs the terminal loop and, when enabled, the dashboard until
// ctx ends or one of them fails.
func (a *app) runAgent(ctx context.Context) error {
	agents := dashboard.NewRegistry(nil)
	ag, err := a.newAgent(ctx, a.cfg.Agent, agents)
	if err != nil {
		return err
	}

	loop := core.New(ag, a.dispatcher,
		core.WithOptions(core.Options{
			MaxActions:     a.cfg.Loop.MaxActions,
			ActionCooldown: a.cfg.Loop.ActionCooldown.Std(),
			IdleMin:        a.cfg.Loop.IdleMin.Std(),
			IdleMax:        a.cfg.Loop.IdleMax.Std(),
		}),
		core.WithSessionID(a.sessionID),
		core.WithListener(a.recorder),
		core.WithLogger(a.logger),
	)

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Dashboard.Enabled {
		server := dashboard.NewServer(agents, dashboard.NewHub(a.logger),
			dashboard.WithLogger(a.logger),
			dashboard.WithLogBuffer(a.logs),
			dashboard.WithArchive(a.archive),
			dashboard.WithTokenHash(a.cfg.Dashboard.TokenHash),
		)
		g.Go(func() error {
			return server.Run(gctx, a.cfg.Dashboard.Addr)
		})
	}
	g.Go(func() error {
		return loop.Run(gctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		a.logger.Info("shutting down", "session", a.sessionID)
		return nil
	}
	return err
}

// runChat puts two agents in a room and writes every turn to a JSONL file
// under <data_dir>/chats. ids and opening override the [chat] settings.
func (a *app) runChat(ctx context.Context, ids []string, opening string) error {
	if len(ids) == 0 {
		ids = a.cfg.Chat.Agents
	}
	if len(ids) != 2 {
		return fmt.Errorf("chat needs two agents, got %d", len(ids))
	}
	if opening == "" {
		opening = a.cfg.Chat.Opening
	}

	var speakers [2]chat.Participant
	for i, id := range ids {
		ag, err := a.newAgent(ctx, id, nil)
		if err != nil {
			return err
		}
		speakers[i] = chat.Participant{Name: fmt.Sprintf("%s#%d", ag.Name(), i+1), Agent: ag}
	}

	dir := filepath.Join(a.cfg.DataDir(), "chats")
	if err := config.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create chat directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("chat-%s.jsonl", time.Now().UTC().Format("20060102-150405")))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create chat transcript: %w", err)
	}
	defer f.Close()

	transcript := chat.NewTranscript(f)
	room := chat.NewRoom(speakers[0], speakers[1],
		chat.WithTurns(a.cfg.Chat.Turns),
		chat.WithDelay(a.cfg.Chat.Delay.Std()),
		chat.WithLogger(a.logger),
		chat.WithTurnHandler(transcript.Write),
		chat.WithTurnHandler(func(ctx context.Context, t chat.Turn) error {
			fmt.Printf("\n[%d] %s:\n%s\n", t.Number, t.Speaker, t.Output)
			return nil
		}),
	)

	a.logger.Info("starting chat", "agents", ids, "turns", a.cfg.Chat.Turns, "transcript", path)
	turns, err := room.Run(ctx, opening)
	a.logger.Info("chat ended", "turns", len(turns), "transcript", path)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases whatever setup managed to open.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.telemetry != nil {
		if err := a.telemetry(ctx); err != nil && a.logger != nil {
			a.logger.Warn("telemetry shutdown", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && a.logger != nil {
			a.logger.Warn("storage close", "error", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}
