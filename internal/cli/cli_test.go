package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatroute/internal/config"
	"chatroute/internal/provider"
	"chatroute/internal/routestate"
)

func testContext(t *testing.T, driver string) *CLIContext {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Store.ConfigPath = filepath.Join(dir, "profiles.json")
	cfg.Store.RoutesDriver = driver
	cfg.Store.RoutesPath = filepath.Join(dir, "routes.db")
	c := NewCLIContext(cfg, filepath.Join(dir, "config.yaml"), nil, false, false)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRoutesDrivers(t *testing.T) {
	tests := []struct {
		driver  string
		wantErr bool
	}{
		{RoutesDriverMemory, false},
		{RoutesDriverConfig, false},
		{RoutesDriverSQLite, false},
		{"", false},
		{"redis", true},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			c := testContext(t, tt.driver)
			routes, err := c.Routes()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			ctx := context.Background()
			st := routestate.State{ActiveProfileID: "openai", ActiveModelID: "gpt-4o"}
			require.NoError(t, routes.Upsert(ctx, "conv-1", st))
			got, err := routes.Get(ctx, "conv-1")
			require.NoError(t, err)
			assert.Equal(t, "openai", got.ActiveProfileID)
			assert.Equal(t, "gpt-4o", got.ActiveModelID)
		})
	}
}

func TestRoutesDriverConfigSharesProfileStore(t *testing.T) {
	c := testContext(t, RoutesDriverConfig)
	routes, err := c.Routes()
	require.NoError(t, err)
	store, err := c.Profiles()
	require.NoError(t, err)

	require.NoError(t, routes.Upsert(context.Background(), "conv-1", routestate.State{ActiveProfileID: "anthropic"}))
	doc, err := store.ReadConfig()
	require.NoError(t, err)
	assert.Equal(t, "anthropic", doc.ConversationRoutes["conv-1"].ActiveProfileID)
}

func TestBuildRuntime(t *testing.T) {
	c := testContext(t, RoutesDriverMemory)
	store, err := c.Profiles()
	require.NoError(t, err)
	require.NoError(t, store.WriteConfig(StarterProfiles()))

	rt, err := BuildRuntime(c)
	require.NoError(t, err)
	assert.NotNil(t, rt.Orchestrator)
	assert.NotNil(t, rt.Commands)

	deps := rt.Deps(c)
	assert.Equal(t, rt.Routes, deps.Routes)
	assert.NotNil(t, deps.Runner)
}

func TestNewRegistry(t *testing.T) {
	assert.Equal(t, []string{"anthropic", "openai", "openai-compatible"}, NewRegistry().Kinds())
}

func TestStarterProfiles(t *testing.T) {
	doc := StarterProfiles()
	require.Len(t, doc.Profiles, 2)
	for _, target := range doc.Routing.ModelPriority {
		p, ok := doc.Profile(target.ProfileID)
		require.True(t, ok, target.ProfileID)
		assert.True(t, p.AllowsModel(target.ModelID))
		assert.Empty(t, p.APIKey)
	}
}

func TestRunInit(t *testing.T) {
	c := testContext(t, RoutesDriverMemory)
	c.Config.Gateway.Port = 8787

	require.NoError(t, RunInit(c, &InitOptions{}))
	_, err := os.Stat(c.ConfigPath)
	require.NoError(t, err)

	store, err := c.Profiles()
	require.NoError(t, err)
	doc, err := store.ReadConfig()
	require.NoError(t, err)
	assert.Len(t, doc.Profiles, 2)

	err = RunInit(c, &InitOptions{})
	assert.Error(t, err)
	assert.NoError(t, RunInit(c, &InitOptions{Force: true}))
}

func TestCredentialSource(t *testing.T) {
	tests := []struct {
		name    string
		profile provider.Profile
		want    string
	}{
		{"oauth", provider.Profile{AuthType: provider.AuthOAuth}, "oauth"},
		{"env", provider.Profile{APIKeyEnv: "OPENAI_API_KEY"}, "$OPENAI_API_KEY"},
		{"inline", provider.Profile{APIKey: "sk-abcdef"}, "sk*****ef"},
		{"none", provider.Profile{}, "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, credentialSource(tt.profile))
		})
	}
}

func TestRedactProfile(t *testing.T) {
	p := provider.Profile{
		APIKey: "sk-secret-key",
		OAuth:  &provider.OAuthConfig{RefreshToken: "refresh-token"},
	}
	out := redactProfile(p)
	assert.NotContains(t, out.APIKey, "secret")
	assert.NotEqual(t, "refresh-token", out.OAuth.RefreshToken)
	assert.Equal(t, "refresh-token", p.OAuth.RefreshToken)
}

func TestFlattenSettings(t *testing.T) {
	keys := flattenSettings("", map[string]any{
		"gateway": map[string]any{"port": 8787, "host": "127.0.0.1"},
		"version": "1",
	})
	assert.ElementsMatch(t, []string{"gateway.port", "gateway.host", "version"}, keys)
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CHATROUTE_TEST_KEY=from-dotenv\n"), 0600))
	t.Setenv("CHATROUTE_TEST_KEY", "")
	require.NoError(t, os.Unsetenv("CHATROUTE_TEST_KEY"))

	require.NoError(t, loadEnv(path))
	assert.Equal(t, "from-dotenv", os.Getenv("CHATROUTE_TEST_KEY"))

	assert.Error(t, loadEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestRootCommands(t *testing.T) {
	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "init", "config", "profile", "route", "doctor", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, "warn", logLevel("warn", GlobalFlags{}))
	assert.Equal(t, "debug", logLevel("warn", GlobalFlags{Verbose: true}))
	assert.Equal(t, "error", logLevel("warn", GlobalFlags{Verbose: true, Quiet: true}))
}

func TestVersionCmd(t *testing.T) {
	cmd := NewVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--json"})
	require.NoError(t, cmd.Execute())

	var info BuildInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.Platform)
}

func TestDropRoutesFor(t *testing.T) {
	c := testContext(t, RoutesDriverSQLite)
	routes, err := c.Routes()
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, routes.Upsert(ctx, "conv-1", routestate.State{ActiveProfileID: "openai"}))
	require.NoError(t, routes.Upsert(ctx, "conv-2", routestate.State{ActiveProfileID: "anthropic"}))

	require.NoError(t, dropRoutesFor(ctx, c, "openai"))

	_, err = routes.Get(ctx, "conv-1")
	assert.ErrorIs(t, err, routestate.ErrNotFound)
	got, err := routes.Get(ctx, "conv-2")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", got.ActiveProfileID)
}
