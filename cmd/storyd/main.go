package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"StoryAI/internal/agent"
	"StoryAI/internal/analysis"
	"StoryAI/internal/analysis/pythonbridge"
	"StoryAI/internal/api"
	"StoryAI/internal/config"
	"StoryAI/internal/identity"
	"StoryAI/internal/knowledge"
	"StoryAI/internal/llm"
	"StoryAI/internal/llm/anthropic"
	"StoryAI/internal/llm/openai"
	"StoryAI/internal/messaging"
	"StoryAI/internal/observability/metrics"
	"StoryAI/internal/registry"
	"StoryAI/internal/session"
	"StoryAI/internal/storage"
	"StoryAI/internal/storage/memory"
	"StoryAI/internal/storage/sqldb"
	"StoryAI/pkg/logger"
)

// main 是 Story.AI 守护进程的入口。
func main() {
	configPath := pflag.StringP("config", "c", defaultConfigPath(), "path to the JSON configuration file")
	addr := pflag.String("addr", "", "override the HTTP listen address, e.g. :8000")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "storyd 运行失败: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if path := os.Getenv("STORY_CONFIG"); path != "" {
		return path
	}
	return filepath.Join("configs", "story.json")
}

func run(ctx context.Context, configPath, addr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Address = addr
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Service:     "storyd",
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditFile != "",
			Path:    cfg.Logging.AuditFile,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.L()

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// 每个智能体使用各自的 API Key 初始化大模型客户端。
	clients := make(map[string]llm.Client, len(config.AgentNames))
	for _, name := range config.AgentNames {
		client, err := createLLMClient(cfg, name)
		if err != nil {
			return err
		}
		if client == nil {
			log.Warn("未配置大模型 API Key，智能体将使用兜底结果", slog.String("agent", name), slog.String("env", config.AgentKeyEnv(name)))
			continue
		}
		clients[name] = llm.Instrument(client, name, metrics.Recorder{})
	}

	analyzer, err := createAnalyzer(cfg, clients[agent.NameJournal])
	if err != nil {
		return err
	}

	store, err := createStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("关闭存储失败", slog.Any("error", err))
		}
	}()

	sessions, err := createSessions(ctx, cfg)
	if err != nil {
		return err
	}
	defer sessions.Close()

	queue, err := createQueue(ctx, cfg)
	if err != nil {
		return err
	}
	if queue != nil {
		defer func() {
			if err := queue.Close(); err != nil {
				log.Warn("关闭消息队列失败", slog.Any("error", err))
			}
		}()
	}

	catalog, err := registry.LoadCatalog(cfg.Registry.CatalogPath)
	if err != nil {
		return err
	}

	var provider knowledge.Provider
	if cfg.Knowledge.Path != "" {
		loaded, err := knowledge.LoadStaticProvider(cfg.Knowledge.Path, cfg.Knowledge.MaxResults)
		if err != nil {
			return err
		}
		provider = loaded
	} else {
		provider = knowledge.NewStaticProvider(nil, cfg.Knowledge.MaxResults)
	}

	directory := registry.NewDirectory()
	router := messaging.NewRouter()
	bus := messaging.NewBus(router, busOptions(cfg, queue, directory)...)

	registrar := registry.NewClient(registry.ClientConfig{
		Enabled:      cfg.Registry.Enabled,
		BaseURL:      cfg.Registry.BaseURL,
		APIKey:       cfg.Registry.APIKey,
		SecondaryKey: cfg.Registry.SecondaryKey,
		Timeout:      30 * time.Second,
		RetryMax:     3,
		Logger:       logger.Named("registry"),
	})

	identities := make(map[string]*identity.Identity, len(config.AgentNames))
	for _, name := range config.AgentNames {
		spec, ok := catalog.Lookup(name)
		if !ok {
			return fmt.Errorf("智能体目录缺少 %s", name)
		}
		id, err := identity.Derive(name, cfg.Identity.SeedPhrase, spec.SeedIndex)
		if err != nil {
			return fmt.Errorf("派生 %s 身份失败: %w", name, err)
		}
		identities[name] = id
		directory.Put(registry.Entry{
			Name:     name,
			Title:    spec.Title,
			Address:  id.Address(),
			Endpoint: registry.WebhookEndpoint(cfg.Server.PublicURL, name),
		})
	}

	optionsFor := func(name string) []agent.Option {
		spec, _ := catalog.Lookup(name)
		return []agent.Option{
			agent.WithLLMTimeout(cfg.LLM.Timeout()),
			agent.WithBus(bus),
			agent.WithDirectory(directory),
			agent.WithStore(store),
			agent.WithAnalyzer(analyzer),
			agent.WithSessions(sessions),
			agent.WithKnowledge(provider),
			agent.WithRegistration(registrar, spec, registry.WebhookEndpoint(cfg.Server.PublicURL, name)),
			agent.WithFallbackObserver(metrics.Recorder{}),
		}
	}

	agents := api.Agents{
		Journal:   agent.NewJournal(identities[agent.NameJournal], clients[agent.NameJournal], optionsFor(agent.NameJournal)...),
		Exercise:  agent.NewExercise(identities[agent.NameExercise], clients[agent.NameExercise], optionsFor(agent.NameExercise)...),
		Gratitude: agent.NewGratitude(identities[agent.NameGratitude], clients[agent.NameGratitude], optionsFor(agent.NameGratitude)...),
		Therapy:   agent.NewTherapy(identities[agent.NameTherapy], clients[agent.NameTherapy], optionsFor(agent.NameTherapy)...),
		Guide:     agent.NewGuide(identities[agent.NameGuide], clients[agent.NameGuide], optionsFor(agent.NameGuide)...),
		Assistant: agent.NewAssistant(identities[agent.NameAssistant], clients[agent.NameAssistant], optionsFor(agent.NameAssistant)...),
		Workflow:  agent.NewWorkflow(identities[agent.NameWorkflow], clients[agent.NameWorkflow], optionsFor(agent.NameWorkflow)...),
	}
	all := []agent.Agent{
		agents.Journal, agents.Exercise, agents.Gratitude, agents.Therapy,
		agents.Guide, agents.Assistant, agents.Workflow,
	}
	for _, ag := range all {
		router.Register(ag.Address(), ag)
		log.Info("智能体已就绪", slog.String("agent", ag.Name()), slog.String("address", ag.Address()))
	}

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	if queue != nil {
		processor := messaging.NewProcessor(bus, queue,
			messaging.WithWorkerCount(cfg.Messaging.Workers),
			messaging.WithProcessorLogger(logger.Named("processor")),
		)
		go func() {
			if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("消息处理器异常退出", slog.Any("error", err))
			}
		}()
	}

	// 注册失败不影响服务启动。
	go func() {
		for _, ag := range all {
			ok, err := ag.Register(processorCtx)
			switch {
			case err != nil:
				log.Warn("智能体注册失败", slog.String("agent", ag.Name()), slog.Any("error", err))
			case ok:
				log.Info("智能体注册成功", slog.String("agent", ag.Name()))
			}
		}
	}()

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(processorCtx, cfg.Server.MetricsAddress); err != nil {
				log.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, agents,
		api.WithBus(bus),
		api.WithDirectory(directory),
		api.WithCatalog(catalog),
		api.WithStore(store),
		api.WithLogger(logger.Named("api")),
	)

	log.Info("Story.AI 服务启动", slog.String("address", cfg.Server.Address), slog.String("public_url", cfg.Server.PublicURL))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createLLMClient 按 provider 创建客户端，未配置 Key 时返回 nil。
func createLLMClient(cfg *config.Config, name string) (llm.Client, error) {
	key := strings.TrimSpace(cfg.LLM.KeyFor(name))
	if key == "" {
		return nil, nil
	}

	switch cfg.LLM.Provider {
	case "gemini", "openai":
		preset := openai.Gemini(key)
		if cfg.LLM.Provider == "openai" {
			preset = openai.OpenAI(key)
		}
		if cfg.LLM.BaseURL != "" {
			preset.BaseURL = cfg.LLM.BaseURL
		}
		preset.Model = cfg.LLM.Model
		preset.Timeout = cfg.LLM.Timeout()
		preset.MaxTokens = cfg.LLM.MaxTokens
		return openai.NewClient(preset)
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:    key,
			BaseURL:   cfg.LLM.BaseURL,
			Model:     cfg.LLM.Model,
			Timeout:   cfg.LLM.Timeout(),
			MaxTokens: cfg.LLM.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func createAnalyzer(cfg *config.Config, client llm.Client) (analysis.Analyzer, error) {
	switch cfg.Analysis.Provider {
	case "python_bridge":
		py := cfg.Analysis.Python
		script := pythonbridge.ResolveScriptPath(py.WorkingDir, py.ScriptPath)
		return pythonbridge.NewAnalyzer(py.PythonExecutable, script, py.WorkingDir)
	case "llm":
		if client == nil {
			return nil, nil
		}
		return analysis.NewLLMAnalyzer(client), nil
	default:
		return nil, fmt.Errorf("未知的分析器 provider: %s", cfg.Analysis.Provider)
	}
}

func createStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		var opts []memory.Option
		if cfg.Storage.PersistJournals {
			opts = append(opts, memory.WithJournalPersistence(cfg.Runtime.DataDir))
		}
		return memory.New(opts...)
	case "mysql", "sqlite":
		return sqldb.Open(ctx, sqldb.Config{
			Driver:          cfg.Storage.Driver,
			DSN:             cfg.Storage.DSN,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.ConnMaxLifetime) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

func createSessions(ctx context.Context, cfg *config.Config) (session.Store, error) {
	switch cfg.Sessions.Driver {
	case "memory":
		return session.NewMemoryStore(), nil
	case "redis":
		return session.NewRedisStore(ctx, session.RedisConfig{
			Address:  cfg.Sessions.Redis.Addr,
			Password: cfg.Sessions.Redis.Password,
			DB:       cfg.Sessions.Redis.DB,
			TTL:      time.Duration(cfg.Sessions.TTLSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的会话驱动: %s", cfg.Sessions.Driver)
	}
}

// busOptions 按消息通道组装总线配置。queue 为 nil 表示 webhook 通道。
func busOptions(cfg *config.Config, queue messaging.Queue, resolver messaging.Resolver) []messaging.BusOption {
	timeout := time.Duration(cfg.Messaging.WebhookTimeout) * time.Second
	opts := []messaging.BusOption{
		messaging.WithWebhook(messaging.NewWebhookTransport(timeout, 3, logger.Named("webhook")), resolver),
		messaging.WithEnvelopeTTL(time.Duration(cfg.Messaging.EnvelopeTTL) * time.Second),
		messaging.WithSendTimeout(timeout),
		messaging.WithBusLogger(logger.Named("bus")),
		messaging.WithObserver(metrics.Recorder{}),
	}
	if queue != nil {
		opts = append(opts, messaging.WithProducer(queue))
	}
	if cfg.Messaging.Transport == transportWebhook {
		opts = append(opts, messaging.WithWebhookDelivery())
	}
	return opts
}

const transportWebhook = "webhook"

// createQueue 创建异步投递使用的队列。webhook 通道不需要队列，返回 nil。
func createQueue(ctx context.Context, cfg *config.Config) (messaging.Queue, error) {
	switch cfg.Messaging.Transport {
	case transportWebhook:
		return nil, nil
	case "memory":
		return messaging.NewMemoryQueue(1024), nil
	case "redis":
		return messaging.NewRedisQueue(ctx, messaging.RedisQueueConfig{
			Address:   cfg.Messaging.Redis.Addr,
			Password:  cfg.Messaging.Redis.Password,
			DB:        cfg.Messaging.Redis.DB,
			Queue:     cfg.Messaging.QueueName,
			BlockWait: time.Second,
		})
	case "rabbitmq":
		return messaging.NewRabbitMQQueue(messaging.RabbitMQConfig{
			URL:      cfg.Messaging.RabbitMQURL,
			Queue:    cfg.Messaging.QueueName,
			Prefetch: cfg.Messaging.Workers,
			Durable:  true,
		})
	default:
		return nil, fmt.Errorf("未知的消息通道: %s", cfg.Messaging.Transport)
	}
}
