// Package app wires application services to infrastructure adapters.
package app

import (
	"context"
	"fmt"

	"github.com/doeshing/merchat/internal/cache"
	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/graph"
	"github.com/doeshing/merchat/internal/infrastructure/config"
	"github.com/doeshing/merchat/internal/infrastructure/data"
	"github.com/doeshing/merchat/internal/infrastructure/model"
	"github.com/doeshing/merchat/internal/intelligence"
	"github.com/doeshing/merchat/internal/pkg/logger"
	"github.com/doeshing/merchat/internal/ports"
	"github.com/doeshing/merchat/internal/registry"
	"github.com/doeshing/merchat/internal/security"
	"github.com/doeshing/merchat/internal/services"
	"github.com/doeshing/merchat/internal/state"
)

// Options tune container construction.
type Options struct {
	Verbose       bool
	ConfigPath    string
	ModelOverride string
}

// Container holds the constructed dependency graph.
type Container struct {
	Config        domain.Config
	ConfigLoader  *config.FileLoader
	Engine        *services.Engine
	DoctorService *services.DoctorService
	Store         *state.Store
	Registry      *registry.Registry
	Invoker       *registry.Invoker
	Backend       *data.MemoryBackend
	Judge         *security.Judge
	Logger        *logger.ZapLogger

	l2           *cache.SQLiteStore
	checkpointer *state.SQLiteCheckpointer
	stopWatcher  context.CancelFunc
	watcherDone  chan struct{}
}

// BuildContainer constructs the dependency graph. Optional pieces (L2
// cache, checkpointing, hot reload, semantic judge) degrade to disabled
// rather than failing the build.
func BuildContainer(ctx context.Context, opts Options) (*Container, error) {
	cfgLoader := config.NewFileLoader(opts.ConfigPath)
	cfg, err := cfgLoader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewZap(opts.Verbose)
	if err != nil {
		return nil, err
	}

	c := &Container{Config: cfg, ConfigLoader: cfgLoader, Logger: log}
	c.Backend = data.NewMemoryBackend()

	builtins := registry.NewBuiltins(c.Backend)
	actionLoader := registry.NewLoader(builtins, log)
	c.Registry = registry.New()
	defs, err := actionLoader.Load(cfg.Actions.DefinitionsFile)
	if err != nil {
		return nil, fmt.Errorf("load action catalog: %w", err)
	}
	if err := c.Registry.Replace(defs); err != nil {
		return nil, fmt.Errorf("install action catalog: %w", err)
	}

	var tiered *cache.Tiered
	if cfg.Cache.Enabled {
		var l2 ports.CacheStore
		if cfg.Cache.L2Path != "" {
			store, err := cache.NewSQLiteStore(cfg.Cache.L2Path)
			if err != nil {
				log.Warn("l2 cache unavailable, running l1 only", map[string]interface{}{
					"path": cfg.Cache.L2Path, "error": err.Error(),
				})
			} else {
				c.l2 = store
				l2 = store
			}
		}
		tiered = cache.NewTiered(cache.NewLRU(cfg.Cache.L1MaxEntries), l2, log)
	}

	factory := model.NewFactory()
	provider, err := providerFor(cfg, factory, opts.ModelOverride)
	if err != nil {
		return nil, err
	}

	var semantic *security.SemanticJudge
	if name := cfg.Security.SemanticJudgeModel; name != "" {
		def, found := cfg.FindModelByName(name)
		if !found {
			return nil, fmt.Errorf("semantic judge model %q not in config", name)
		}
		judgeProvider, err := factory.ForModel(def)
		if err != nil {
			return nil, fmt.Errorf("semantic judge model %q: %w", name, err)
		}
		semantic = security.NewSemanticJudge(judgeProvider, cfg.Budgets.ModelTimeout())
	}
	c.Judge, err = security.NewJudge(cfg.Security, semantic, log)
	if err != nil {
		return nil, err
	}

	caps := c.Backend.Capabilities()
	c.Invoker = registry.NewInvoker(c.Registry, tiered, caps, log)

	executor := graph.New(graph.Config{
		Judge:    c.Judge,
		Detector: intelligence.NewModeDetector(c.Backend, cfg.Budgets.DependencyTimeout(), log),
		Enricher: intelligence.NewEnricher(c.Backend, cfg.Budgets.DependencyTimeout(), log),
		Registry: c.Registry,
		Invoker:  c.Invoker,
		Provider: provider,
		Caps:     caps,
		Budgets:  cfg.Budgets,
		Logger:   log,
	})

	var checkpointer ports.Checkpointer
	if cfg.State.CheckpointPath != "" {
		cp, err := state.NewSQLiteCheckpointer(cfg.State.CheckpointPath)
		if err != nil {
			log.Warn("checkpointing unavailable, sessions are memory only", map[string]interface{}{
				"path": cfg.State.CheckpointPath, "error": err.Error(),
			})
		} else {
			c.checkpointer = cp
			checkpointer = cp
		}
	}
	c.Store = state.NewStore(checkpointer, cfg.State.HistoryLimit, log)

	c.Engine = &services.Engine{
		Store:    c.Store,
		Executor: executor,
		Judge:    c.Judge,
		Budgets:  cfg.Budgets,
		Logger:   log,
	}
	c.DoctorService = &services.DoctorService{
		ConfigProvider:  cfgLoader,
		ProviderFactory: factory,
		Registry:        c.Registry,
		DataAccess:      c.Backend,
		Judge:           c.Judge,
	}

	if cfg.Actions.HotReload && cfg.Actions.DefinitionsFile != "" {
		watcher, err := registry.NewWatcher(cfg.Actions.DefinitionsFile, actionLoader, c.Registry, log)
		if err != nil {
			log.Warn("hot reload unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			watchCtx, cancel := context.WithCancel(context.Background())
			c.stopWatcher = cancel
			c.watcherDone = make(chan struct{})
			go func() {
				defer close(c.watcherDone)
				watcher.Run(watchCtx)
			}()
		}
	}

	return c, nil
}

func providerFor(cfg domain.Config, factory ports.ProviderFactory, override string) (ports.ModelProvider, error) {
	def, found := cfg.GetDefaultModel()
	if override != "" {
		def, found = cfg.FindModelByName(override)
		if !found {
			return nil, fmt.Errorf("model %q not in config", override)
		}
	}
	if !found {
		return nil, fmt.Errorf("no models configured")
	}
	return factory.ForModel(def)
}

// Close stops the watcher and releases database handles.
func (c *Container) Close() {
	if c.stopWatcher != nil {
		c.stopWatcher()
		<-c.watcherDone
	}
	if c.l2 != nil {
		_ = c.l2.Close()
	}
	if c.checkpointer != nil {
		_ = c.checkpointer.Close()
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
}
