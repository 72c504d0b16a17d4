package cli

import (
	"net/http"
	"time"

	"chatroute/internal/compaction"
	"chatroute/internal/credentials"
	"chatroute/internal/gateway"
	"chatroute/internal/gateway/handlers"
	"chatroute/internal/orchestrator"
	"chatroute/internal/probe"
	"chatroute/internal/profiles"
	"chatroute/internal/provider"
	"chatroute/internal/provider/anthropic"
	"chatroute/internal/provider/openai"
	"chatroute/internal/routestate"
	"chatroute/internal/routing"
	"chatroute/internal/tokenizer"
)

// Runtime 是 serve 与 doctor 共用的已装配组件
type Runtime struct {
	Profiles     *profiles.Store
	Routes       routestate.Store
	Credentials  *credentials.Manager
	Resolver     *provider.Resolver
	Orchestrator *orchestrator.Orchestrator
	Commands     *routing.Dispatcher
}

// NewRegistry 注册所有内置适配器
func NewRegistry() *provider.Registry {
	r := provider.NewRegistry()
	openai.Register(r)
	anthropic.Register(r)
	return r
}

// BuildRuntime 按配置装配 profile 存储、凭证、解析器与编排器
func BuildRuntime(c *CLIContext) (*Runtime, error) {
	store, err := c.Profiles()
	if err != nil {
		return nil, err
	}
	routes, err := c.Routes()
	if err != nil {
		return nil, err
	}

	cfg := c.Config
	creds := credentials.NewManager(credentials.WithRefresher(&credentials.HTTPRefresher{
		Client: &http.Client{Timeout: 30 * time.Second},
	}))
	resolver := provider.NewResolver(store, creds, NewRegistry())

	// profile 文档变更后丢弃缓存的客户端与 OAuth token
	store.OnChange(func() {
		resolver.Invalidate()
		doc, err := store.ReadConfig()
		if err != nil {
			return
		}
		for _, p := range doc.Profiles {
			creds.Forget(p.ID)
		}
	})

	engine := compaction.NewEngine(compaction.NewCalculator(tokenizer.Default()))
	orch := orchestrator.New(orchestrator.Options{
		Resolver:      resolver,
		Engine:        engine,
		ToolCompactor: compaction.NewToolCompactor(engine.Calculator()),
		Prober: &probe.Prober{
			Timeout:     cfg.Routing.AttemptTimeout,
			WindowChars: cfg.Routing.ProbeWindowChars,
			MaxBuffer:   cfg.Routing.MaxBufferBytes,
		},
		Routes:            routes,
		AttemptTimeout:    cfg.Routing.AttemptTimeout,
		CompactionTimeout: cfg.Routing.CompactionTimeout,
		Summarizer: orchestrator.SummaryTargetFactory(resolver, func() *provider.Target {
			doc, err := store.ReadConfig()
			if err != nil {
				return nil
			}
			return doc.SummaryTarget
		}),
	})

	return &Runtime{
		Profiles:     store,
		Routes:       routes,
		Credentials:  creds,
		Resolver:     resolver,
		Orchestrator: orch,
		Commands:     &routing.Dispatcher{Routes: routes, Policy: store, Profiles: store},
	}, nil
}

// Deps 返回 HTTP 网关所需的依赖
func (rt *Runtime) Deps(c *CLIContext) gateway.Deps {
	return gateway.Deps{
		Config:   rt.Profiles,
		Routes:   rt.Routes,
		Runner:   rt.Orchestrator,
		Commands: rt.Commands,
		Defaults: handlers.Defaults{
			Context:      c.Config.Context,
			Tools:        c.Config.Tools,
			SystemPrompt: c.Config.Routing.DefaultSystemPrompt,
		},
		Version: Version,
	}
}
