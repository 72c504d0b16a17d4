package cli

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"chatroute/internal/config"
	"chatroute/internal/profiles"
	"chatroute/internal/routestate"
	"chatroute/pkg/logger"
)

// Routes drivers for config.Store.RoutesDriver.
const (
	RoutesDriverMemory = "memory"
	RoutesDriverSQLite = "sqlite"
	RoutesDriverConfig = "config"
)

// CLIContext CLI 上下文
type CLIContext struct {
	Config     *config.Config
	ConfigPath string
	Logger     *zerolog.Logger
	Verbose    bool
	Quiet      bool

	profilesOnce sync.Once
	profiles     *profiles.Store
	profilesErr  error

	routesOnce sync.Once
	routes     routestate.Store
	routesErr  error

	closers []func() error
}

// NewCLIContext 创建 CLI 上下文
func NewCLIContext(cfg *config.Config, configPath string, log *zerolog.Logger, verbose, quiet bool) *CLIContext {
	return &CLIContext{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     log,
		Verbose:    verbose,
		Quiet:      quiet,
	}
}

// Profiles 获取 profile 文档存储（懒加载）
func (c *CLIContext) Profiles() (*profiles.Store, error) {
	c.profilesOnce.Do(func() {
		path := c.Config.Store.ConfigPath
		if path == "" {
			path, c.profilesErr = config.DefaultProfilesPath()
			if c.profilesErr != nil {
				return
			}
		}
		c.profiles, c.profilesErr = profiles.Open(path)
	})
	return c.profiles, c.profilesErr
}

// Routes 按 store.routes_driver 打开会话路由存储（懒加载）
func (c *CLIContext) Routes() (routestate.Store, error) {
	c.routesOnce.Do(func() {
		c.routes, c.routesErr = c.openRoutes()
	})
	return c.routes, c.routesErr
}

func (c *CLIContext) openRoutes() (routestate.Store, error) {
	switch c.Config.Store.RoutesDriver {
	case RoutesDriverMemory:
		return routestate.NewMemoryStore(), nil
	case RoutesDriverConfig:
		store, err := c.Profiles()
		if err != nil {
			return nil, err
		}
		return store, nil
	case RoutesDriverSQLite, "":
		path := c.Config.Store.RoutesPath
		if path == "" {
			var err error
			if path, err = config.DefaultRoutesPath(); err != nil {
				return nil, err
			}
		}
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return nil, err
		}
		db, err := routestate.OpenSQLite(expanded)
		if err != nil {
			return nil, fmt.Errorf("open route store: %w", err)
		}
		c.closers = append(c.closers, db.Close)
		return db, nil
	default:
		return nil, fmt.Errorf("unknown routes driver %q", c.Config.Store.RoutesDriver)
	}
}

// Close 关闭资源
func (c *CLIContext) Close() error {
	var errs []error
	for _, fn := range c.closers {
		errs = append(errs, fn())
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Log 获取 Logger
func (c *CLIContext) Log() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logger.Get()
}
