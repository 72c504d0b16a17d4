package cli

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"chatroute/internal/config"
	"chatroute/pkg/logger"
)

// GlobalFlags 全局标志
type GlobalFlags struct {
	ConfigPath string
	EnvFile    string
	Verbose    bool
	Quiet      bool
}

var globalFlags GlobalFlags

// contextKey CLI 上下文键
type contextKey struct{}

// 不需要配置与日志的命令
var bareCommands = map[string]bool{
	"version":    true,
	"help":       true,
	"completion": true,
}

// NewRootCmd 创建根命令
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chatroute",
		Short: "chatroute - LLM chat router with failover",
		Long: `chatroute routes chat requests across provider profiles.
It tries each (profile, model) target in priority order, probes the
start of every stream, and fails over before any bytes reach the client.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if bareCommands[cmd.Name()] {
				return nil
			}
			cliCtx, err := setup(globalFlags)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, cliCtx))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cliCtx := GetCLIContext(cmd); cliCtx != nil {
				return cliCtx.Close()
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&globalFlags.ConfigPath, "config", "c", "", "config file path (default: ~/.chatroute/config.yaml)")
	flags.StringVar(&globalFlags.EnvFile, "env-file", "", "dotenv file to load (default: ./.env when present)")
	flags.BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "verbose output")
	flags.BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "quiet mode")

	rootCmd.AddCommand(
		NewVersionCmd(),
		NewInitCmd(),
		NewConfigCmd(),
		NewServeCmd(),
		NewProfileCmd(),
		NewRouteCmd(),
		NewDoctorCmd(),
	)

	return rootCmd
}

// setup 依次加载 .env、配置文件与 Logger
func setup(flags GlobalFlags) (*CLIContext, error) {
	if err := loadEnv(flags.EnvFile); err != nil {
		return nil, err
	}

	configPath := flags.ConfigPath
	if configPath == "" {
		var err error
		if configPath, err = config.DefaultConfigPath(); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	err = logger.Init(logger.LogConfig{
		Level:  logLevel(cfg.Log.Level, flags),
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, err
	}

	return NewCLIContext(cfg, configPath, logger.Get(), flags.Verbose, flags.Quiet), nil
}

// logLevel: --quiet 优先于 --verbose
func logLevel(configured string, flags GlobalFlags) string {
	switch {
	case flags.Quiet:
		return "error"
	case flags.Verbose:
		return "debug"
	default:
		return configured
	}
}

// loadEnv 加载 dotenv 文件；未显式指定时缺失的 ./.env 不是错误
func loadEnv(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}
	_ = godotenv.Load()
	return nil
}

// GetCLIContext 从命令上下文获取 CLI 上下文
func GetCLIContext(cmd *cobra.Command) *CLIContext {
	ctx := cmd.Context()
	if ctx == nil {
		return nil
	}
	cliCtx, _ := ctx.Value(contextKey{}).(*CLIContext)
	return cliCtx
}
