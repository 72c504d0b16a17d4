package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chatroute/internal/profiles"
	"chatroute/internal/provider"
)

// NewProfileCmd 创建 profile 命令组
func NewProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage provider profiles",
		Long:  "List, enable and disable the credential profiles in profiles.json",
	}

	cmd.AddCommand(newProfileListCmd())
	cmd.AddCommand(newProfileToggleCmd("enable", false))
	cmd.AddCommand(newProfileToggleCmd("disable", true))

	return cmd
}

func newProfileListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return fmt.Errorf("CLI context not initialized")
			}
			store, err := cliCtx.Profiles()
			if err != nil {
				return err
			}
			doc, err := store.ReadConfig()
			if err != nil {
				return fmt.Errorf("read profiles: %w", err)
			}

			if jsonOutput {
				out := make([]provider.Profile, len(doc.Profiles))
				for i, p := range doc.Profiles {
					out[i] = redactProfile(p)
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			if len(doc.Profiles) == 0 {
				fmt.Println("No profiles configured. Run: chatroute init")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tDEFAULT MODEL\tCREDENTIAL\tSTATUS")
			for _, p := range doc.Profiles {
				status := "enabled"
				if p.Disabled {
					status = "disabled"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Provider, p.DefaultModel, credentialSource(p), status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func newProfileToggleCmd(verb string, disabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <profileId>",
		Short: fmt.Sprintf("%s a profile", verb),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return fmt.Errorf("CLI context not initialized")
			}
			store, err := cliCtx.Profiles()
			if err != nil {
				return err
			}
			id := args[0]
			err = store.Update(func(doc *profiles.AppConfig) error {
				for i := range doc.Profiles {
					if doc.Profiles[i].ID == id {
						doc.Profiles[i].Disabled = disabled
						return nil
					}
				}
				return fmt.Errorf("profile %q not found", id)
			})
			if err != nil {
				return err
			}
			fmt.Printf("Profile %s %sd\n", id, verb)

			if disabled {
				return dropRoutesFor(cmd.Context(), cliCtx, id)
			}
			return nil
		},
	}
}

// profileRouteDeleter 由支持按 profile 批量删除的路由存储实现（sqlite）
type profileRouteDeleter interface {
	DeleteByProfile(ctx context.Context, profileID string) (int64, error)
}

// dropRoutesFor 清除仍指向已禁用 profile 的会话路由
func dropRoutesFor(ctx context.Context, c *CLIContext, profileID string) error {
	routes, err := c.Routes()
	if err != nil {
		return err
	}
	d, ok := routes.(profileRouteDeleter)
	if !ok {
		return nil
	}
	n, err := d.DeleteByProfile(ctx, profileID)
	if err != nil {
		return fmt.Errorf("drop conversation routes: %w", err)
	}
	if n > 0 {
		fmt.Printf("Cleared %d conversation routes pinned to %s\n", n, profileID)
	}
	return nil
}

// credentialSource 描述 profile 的凭证来源，不输出明文
func credentialSource(p provider.Profile) string {
	switch {
	case p.AuthType == provider.AuthOAuth:
		return "oauth"
	case p.APIKeyEnv != "":
		return "$" + p.APIKeyEnv
	case p.APIKey != "":
		return maskValue(p.APIKey)
	default:
		return "-"
	}
}

func redactProfile(p provider.Profile) provider.Profile {
	if p.APIKey != "" {
		p.APIKey = maskValue(p.APIKey)
	}
	if p.OAuth != nil {
		oauth := *p.OAuth
		if oauth.RefreshToken != "" {
			oauth.RefreshToken = maskValue(oauth.RefreshToken)
		}
		p.OAuth = &oauth
	}
	return p
}
