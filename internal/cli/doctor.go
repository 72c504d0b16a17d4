package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"chatroute/internal/config"
	"chatroute/internal/profiles"
)

// NewDoctorCmd 创建 doctor 命令
func NewDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the routing setup",
		Long: `Run diagnostic checks on your chatroute installation.

This command checks:
- Configuration file validity
- Profile document and priority list
- Credential resolution for every enabled profile
- Conversation route store
- Server status`,
		RunE: runDoctor,
	}

	return cmd
}

type checkResult struct {
	name    string
	status  string // ok, warning, error
	message string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("CLI context not initialized")
	}

	fmt.Println("chatroute doctor")
	fmt.Println("================")
	fmt.Println()

	results := []checkResult{
		checkSystemInfo(),
		checkConfigFile(cliCtx),
	}

	rt, err := BuildRuntime(cliCtx)
	if err != nil {
		results = append(results, checkResult{name: "Runtime", status: "error", message: err.Error()})
	} else {
		doc, err := rt.Profiles.ReadConfig()
		if err != nil {
			results = append(results, checkResult{name: "Profiles", status: "error", message: err.Error()})
		} else {
			results = append(results, checkProfiles(doc))
			results = append(results, checkCredentials(cmd.Context(), rt, doc)...)
		}
		results = append(results, checkResult{name: "Route store", status: "ok", message: "driver " + routesDriver(cliCtx.Config)})
	}

	results = append(results, checkServerConnectivity(cliCtx.Config))

	fmt.Println()
	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		icon := "✓"
		if r.status == "warning" {
			icon = "⚠️"
			hasWarnings = true
		} else if r.status == "error" {
			icon = "✗"
			hasErrors = true
		}

		fmt.Printf("%s %s: %s\n", icon, r.name, r.message)
	}

	fmt.Println()
	if hasErrors {
		fmt.Println("❌ Some checks failed. Please address the issues above.")
		return nil
	} else if hasWarnings {
		fmt.Println("⚠️  Some warnings detected. Routing works but some targets may be skipped.")
	} else {
		fmt.Println("✅ All checks passed! chatroute is ready to serve.")
	}

	return nil
}

func checkSystemInfo() checkResult {
	return checkResult{
		name:    "System",
		status:  "ok",
		message: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}
}

func checkConfigFile(c *CLIContext) checkResult {
	path, err := config.ExpandPath(c.ConfigPath)
	if err != nil {
		return checkResult{name: "Config", status: "error", message: err.Error()}
	}
	if _, err := os.Stat(path); err != nil {
		return checkResult{
			name:    "Config",
			status:  "warning",
			message: fmt.Sprintf("%s not found, using defaults. Run: chatroute init", path),
		}
	}
	return checkResult{name: "Config", status: "ok", message: "Found: " + path}
}

func checkProfiles(doc profiles.AppConfig) checkResult {
	if len(doc.Profiles) == 0 {
		return checkResult{name: "Profiles", status: "error", message: "no profiles configured"}
	}
	policy := doc.Routing.Normalize()
	for _, t := range policy.ModelPriority {
		if _, ok := doc.Profile(t.ProfileID); !ok {
			return checkResult{
				name:    "Profiles",
				status:  "warning",
				message: fmt.Sprintf("priority target %s references a missing profile", t),
			}
		}
	}
	if len(policy.ModelPriority) == 0 {
		return checkResult{name: "Profiles", status: "warning", message: "model priority list is empty"}
	}
	return checkResult{
		name:    "Profiles",
		status:  "ok",
		message: fmt.Sprintf("%d profiles, %d priority targets", len(doc.Profiles), len(policy.ModelPriority)),
	}
}

func checkCredentials(ctx context.Context, rt *Runtime, doc profiles.AppConfig) []checkResult {
	var out []checkResult
	for _, p := range doc.Profiles {
		if p.Disabled {
			continue
		}
		name := "Credentials " + p.ID
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := rt.Credentials.Token(cctx, p)
		cancel()
		if err != nil {
			out = append(out, checkResult{name: name, status: "warning", message: err.Error()})
			continue
		}
		out = append(out, checkResult{name: name, status: "ok", message: credentialSource(p)})
	}
	return out
}

func routesDriver(cfg *config.Config) string {
	if cfg.Store.RoutesDriver == "" {
		return RoutesDriverSQLite
	}
	return cfg.Store.RoutesDriver
}

func checkServerConnectivity(cfg *config.Config) checkResult {
	client := &http.Client{Timeout: 5 * time.Second}
	addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	url := fmt.Sprintf("http://%s/api/v1/health", addr)

	resp, err := client.Get(url)
	if err != nil {
		return checkResult{
			name:    "Server",
			status:  "warning",
			message: "Not running. Start with: chatroute serve",
		}
	}
	defer resp.Body.Close()

	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err == nil {
		status, _ := health["status"].(string)
		return checkResult{
			name:    "Server",
			status:  "ok",
			message: fmt.Sprintf("Running on %s (status: %s)", addr, status),
		}
	}
	return checkResult{name: "Server", status: "ok", message: "Running on " + addr}
}
