package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"chatroute/internal/config"
	"chatroute/internal/profiles"
	"chatroute/internal/provider"
	"chatroute/internal/provider/anthropic"
	"chatroute/internal/provider/openai"
	"chatroute/internal/routing"
)

// InitOptions init 命令选项
type InitOptions struct {
	Force bool
}

// NewInitCmd 创建 init 命令
func NewInitCmd() *cobra.Command {
	opts := &InitOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize chatroute configuration",
		Long:  "Write a default config.yaml and a starter profiles.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return fmt.Errorf("CLI context not initialized")
			}
			return RunInit(cliCtx, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite existing configuration")

	return cmd
}

// RunInit 执行初始化
func RunInit(c *CLIContext, opts *InitOptions) error {
	configPath, err := config.ExpandPath(c.ConfigPath)
	if err != nil {
		return err
	}

	// 检查是否已存在
	if _, err := os.Stat(configPath); err == nil && !opts.Force {
		return fmt.Errorf("configuration already exists at %s (use --force to overwrite)", configPath)
	}

	if err := config.SaveTo(c.Config, configPath); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	store, err := c.Profiles()
	if err != nil {
		return fmt.Errorf("open profiles: %w", err)
	}
	if _, err := os.Stat(store.Path()); err == nil && !opts.Force {
		fmt.Printf("Keeping existing profiles at %s\n", store.Path())
	} else if err := store.WriteConfig(StarterProfiles()); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}

	fmt.Printf("Initialized chatroute at %s\n", filepath.Dir(configPath))
	fmt.Printf("  Config:   %s\n", configPath)
	fmt.Printf("  Profiles: %s\n", store.Path())

	return nil
}

// StarterProfiles 返回初始 profile 文档：两个通过环境变量取 key 的 profile
func StarterProfiles() profiles.AppConfig {
	return profiles.AppConfig{
		Profiles: []provider.Profile{
			{
				ID:           "openai",
				Name:         "OpenAI",
				Provider:     openai.KindOpenAI,
				APIKeyEnv:    "OPENAI_API_KEY",
				DefaultModel: "gpt-4o",
				FastModel:    "gpt-4o-mini",
			},
			{
				ID:           "anthropic",
				Name:         "Anthropic",
				Provider:     anthropic.Kind,
				APIKeyEnv:    "ANTHROPIC_API_KEY",
				DefaultModel: "claude-sonnet-4-5",
				FastModel:    "claude-haiku-4-5",
			},
		},
		Routing: routing.Policy{
			ModelPriority: []provider.Target{
				{ProfileID: "openai", ModelID: "gpt-4o"},
				{ProfileID: "anthropic", ModelID: "claude-sonnet-4-5"},
			},
			MaxAttempts: routing.DefaultMaxAttempts,
		},
	}
}
