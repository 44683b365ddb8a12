package container

import (
	"fmt"

	"github.com/weftworks/weft/cmd/weftd/condition"
	"github.com/weftworks/weft/cmd/weftd/interaction"
	"github.com/weftworks/weft/cmd/weftd/lifecycle"
	"github.com/weftworks/weft/cmd/weftd/nodes"
	"github.com/weftworks/weft/cmd/weftd/nodes/security"
	"github.com/weftworks/weft/cmd/weftd/orchestrator"
	"github.com/weftworks/weft/cmd/weftd/triggers"
	"github.com/weftworks/weft/common/bootstrap"
	"github.com/weftworks/weft/common/cache"
	"github.com/weftworks/weft/common/clients"
	"github.com/weftworks/weft/common/ratelimit"
	"github.com/weftworks/weft/common/repository"
	"github.com/weftworks/weft/common/sdk"
	"github.com/weftworks/weft/common/telemetry"
)

// Container holds all initialized engine components (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Repositories
	WorkflowRepo   *repository.WorkflowRepository
	ExecutionRepo  *repository.ExecutionRepository
	CredentialRepo *repository.CredentialRepository // nil without a master key

	// Engine
	Registry     *sdk.Registry
	Orchestrator *orchestrator.Orchestrator
	Triggers     *triggers.Manager
	Sweeper      *interaction.Sweeper
	Hooks        *nodes.WebhookRouter

	// Event path
	Bus         *lifecycle.Bus
	RedisEvents *lifecycle.RedisPublisher // nil unless redis events are enabled

	// Service edge
	Limiter *ratelimit.RateLimiter // nil without redis
	Limits  ratelimit.Limits

	// Closing is the HTTP server's shutdown signal. main wires it before the
	// server starts; event streams watch it to end cleanly during drain.
	Closing <-chan struct{}
}

// NewContainer initializes all engine components once, bottom-up.
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	// Definition cache: shared Redis when available so instances agree,
	// per-process memory otherwise.
	var defCache cache.Cache
	if components.Redis != nil {
		defCache = cache.NewRedisCache(components.Redis)
	} else {
		defCache = cache.NewMemoryCache(log)
	}

	// Repositories
	workflowRepo := repository.NewWorkflowRepository(components.DB, defCache)
	executionRepo := repository.NewExecutionRepository(components.DB)

	var credentialRepo *repository.CredentialRepository
	if cfg.Credentials.MasterKey != "" {
		repo, err := repository.NewCredentialRepository(components.DB, cfg.Credentials.MasterKey)
		if err != nil {
			return nil, fmt.Errorf("failed to open credential store: %w", err)
		}
		credentialRepo = repo
	} else {
		log.Warn("credential master key not set, credential store disabled")
	}

	// Node catalog dependencies
	evaluator, err := condition.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition evaluator: %w", err)
	}
	httpClient := clients.NewHTTPClient(clients.HTTPClientOpts{
		Validate: security.NewValidator().ValidateURL,
		Logger:   log,
	})
	hooks := nodes.NewWebhookRouter(log)

	registry := sdk.NewRegistry()
	if err := nodes.Register(registry, nodes.Deps{
		Evaluator: evaluator,
		HTTP:      httpClient,
		Hooks:     hooks,
		ExportDir: cfg.Engine.ExportDir,
		Logger:    log,
	}); err != nil {
		return nil, fmt.Errorf("failed to register node types: %w", err)
	}

	// Event path: always the in-process bus, plus Redis pub/sub and stream
	// history when enabled.
	bus := lifecycle.NewBus(log)
	publishers := []sdk.Publisher{bus}
	var redisEvents *lifecycle.RedisPublisher
	if cfg.Features.EnableRedisEvents && components.Redis != nil {
		redisEvents = lifecycle.NewRedisPublisher(components.Redis, log)
		publishers = append(publishers, redisEvents)
	}

	// LLM gateway for llm nodes. Left nil without a key; the node reports the
	// missing gateway at execution time.
	var llm sdk.LLMGateway
	if cfg.LLM.APIKey != "" {
		llmClient, err := clients.NewLLMClient(clients.LLMClientOpts{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.DefaultModel,
			Timeout:      cfg.LLM.RequestTimeout,
			Logger:       log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		llm = llmClient
	} else {
		log.Warn("LLM API key not set, llm nodes will fail at execution")
	}

	var metrics *telemetry.Metrics
	if components.Telemetry != nil {
		metrics = components.Telemetry.Metrics()
	}

	var limiter *ratelimit.RateLimiter
	if components.Redis != nil {
		limiter = ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), log)
	} else {
		log.Warn("redis not configured, rate limiting disabled")
	}

	orch := orchestrator.New(orchestrator.Opts{
		Definitions:    workflowRepo,
		Registry:       registry,
		Publisher:      lifecycle.NewFanout(publishers...),
		Sink:           executionRepo,
		Credentials:    credentialSource(credentialRepo),
		LLM:            llm,
		Metrics:        metrics,
		Logger:         log,
		Constraints:    cfg.Constraints(),
		FrontendOrigin: cfg.Service.FrontendOrigin,
	})

	var spawnLimiter *ratelimit.RateLimiter
	if cfg.Features.EnableSpawnRateLimit {
		spawnLimiter = limiter
	}
	triggerManager := triggers.NewManager(triggers.Opts{
		Definitions: workflowRepo,
		Registry:    registry,
		Engine:      orch,
		Limiter:     spawnLimiter,
		Metrics:     metrics,
		Constraints: cfg.Constraints(),
		Logger:      log,
	})

	sweeper := interaction.NewSweeper(orch, cfg.Engine.SweepInterval, log)

	return &Container{
		Components:     components,
		WorkflowRepo:   workflowRepo,
		ExecutionRepo:  executionRepo,
		CredentialRepo: credentialRepo,
		Registry:       registry,
		Orchestrator:   orch,
		Triggers:       triggerManager,
		Sweeper:        sweeper,
		Hooks:          hooks,
		Bus:            bus,
		RedisEvents:    redisEvents,
		Limiter:        limiter,
		Limits:         ratelimit.DefaultLimits,
	}, nil
}

// credentialSource keeps a nil repository out of the orchestrator's interface
// field, so the scheduler sees "no source configured" rather than a typed nil.
func credentialSource(repo *repository.CredentialRepository) sdk.CredentialSource {
	if repo == nil {
		return nil
	}
	return repo
}
