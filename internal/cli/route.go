package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chatroute/internal/provider"
	"chatroute/internal/routestate"
	"chatroute/internal/routing"
)

// NewRouteCmd 创建 route 命令组
func NewRouteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Inspect and change routing",
		Long: `Inspect the route plan and change the global primary route or a
conversation's override. Changes go through the same command path as the
in-chat /route, /profile and /model commands.`,
	}

	cmd.AddCommand(newRoutePlanCmd())
	cmd.AddCommand(newRouteShowCmd())
	cmd.AddCommand(newRouteResetCmd())
	cmd.AddCommand(newRoutePrimaryCmd())
	cmd.AddCommand(newRouteSetCmd())

	return cmd
}

func newRoutePlanCmd() *cobra.Command {
	var (
		profileID  string
		modelID    string
		manual     bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "plan [conversationId]",
		Short: "Print the ordered targets a request would try",
		Args:  cobra.MaximumNArgs(1),
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

			var state *routestate.State
			if len(args) == 1 {
				routes, err := cliCtx.Routes()
				if err != nil {
					return err
				}
				if state, err = routestate.Lookup(cmd.Context(), routes, args[0]); err != nil {
					return fmt.Errorf("load route: %w", err)
				}
			}

			var override *provider.Target
			if profileID != "" || modelID != "" {
				override = &provider.Target{ProfileID: profileID, ModelID: modelID}
			}

			plan := routing.Plan(doc.Routing, state, override, manual)
			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(plan)
			}
			if len(plan) == 0 {
				fmt.Println("No targets configured.")
				return nil
			}
			for i, t := range plan {
				fmt.Printf("%d. %s/%s\n", i+1, t.ProfileID, t.ModelID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&profileID, "profile", "", "request-level profile override")
	cmd.Flags().StringVar(&modelID, "model", "", "request-level model override")
	cmd.Flags().BoolVar(&manual, "manual", false, "manual routing (first target only)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func newRouteShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <conversationId>",
		Short: "Show a conversation's route override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatchCommand(cmd, args[0], routing.Command{Kind: routing.CmdRouteShow})
		},
	}
}

func newRouteResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <conversationId>",
		Short: "Clear a conversation's route override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatchCommand(cmd, args[0], routing.Command{Kind: routing.CmdRouteReset})
		},
	}
}

func newRoutePrimaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "primary <profileId> <modelId>",
		Short: "Move a target to the head of the global priority list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatchCommand(cmd, "", routing.Command{
				Kind:      routing.CmdRoutePrimary,
				ProfileID: args[0],
				ModelID:   args[1],
			})
		},
	}
}

func newRouteSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <conversationId> <profileId> [modelId]",
		Short: "Pin a conversation to a profile and optionally a model",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dispatchCommand(cmd, args[0], routing.Command{Kind: routing.CmdProfile, ProfileID: args[1]}); err != nil {
				return err
			}
			if len(args) == 3 {
				return dispatchCommand(cmd, args[0], routing.Command{Kind: routing.CmdModel, ModelID: args[2]})
			}
			return nil
		},
	}
}

// dispatchCommand 通过与聊天内命令相同的 Dispatcher 执行并打印回执
func dispatchCommand(cmd *cobra.Command, conversationID string, command routing.Command) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("CLI context not initialized")
	}
	store, err := cliCtx.Profiles()
	if err != nil {
		return err
	}
	routes, err := cliCtx.Routes()
	if err != nil {
		return err
	}
	doc, err := store.ReadConfig()
	if err != nil {
		return fmt.Errorf("read profiles: %w", err)
	}

	d := &routing.Dispatcher{Routes: routes, Policy: store, Profiles: store}
	ack, err := d.Dispatch(cmd.Context(), conversationID, command, doc.Routing)
	if err != nil {
		return err
	}
	fmt.Println(ack)
	return nil
}
