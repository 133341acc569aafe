package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/dynamic-mcp/dmcp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	suite.tempDir = suite.T().TempDir()
	require.NoError(suite.T(), os.Chdir(suite.tempDir))
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		_ = os.Chdir(suite.origDir)
	}
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), internal.DefaultPlannerBackend, cfg.Planner.Backend)
	assert.Equal(suite.T(), 10*time.Second, cfg.Planner.Timeout)
	assert.Equal(suite.T(), time.Second, cfg.Planner.RateLimitRefillRate)
	assert.Equal(suite.T(), internal.DefaultProviderKind, cfg.Provider.Kind)
	assert.Equal(suite.T(), 30*time.Second, cfg.Executor.ToolTimeout)
	assert.Equal(suite.T(), "receipt_no", cfg.Executor.ParamAliases["receipt_number"])
	assert.Equal(suite.T(), internal.DefaultRecordDSN, cfg.Store.DSN)
	assert.Equal(suite.T(), 4, cfg.Engine.BatchConcurrency)
	assert.Contains(suite.T(), cfg.Planner.FlowStages, "movement")
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configContent := `
planner:
  backend: deterministic
  timeout: 2s
  rules_file: ./rules.yaml
provider:
  kind: anthropic
  model: claude-test
executor:
  tool_timeout: 5s
engine:
  batch_concurrency: 8
`
	configFile := filepath.Join(suite.tempDir, "config.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(configContent), 0o644))

	cfg, err := LoadConfig(configFile)
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "deterministic", cfg.Planner.Backend)
	assert.Equal(suite.T(), 2*time.Second, cfg.Planner.Timeout)
	assert.Equal(suite.T(), "./rules.yaml", cfg.Planner.RulesFile)
	assert.Equal(suite.T(), "anthropic", cfg.Provider.Kind)
	assert.Equal(suite.T(), "claude-test", cfg.Provider.Model)
	assert.Equal(suite.T(), 5*time.Second, cfg.Executor.ToolTimeout)
	assert.Equal(suite.T(), 8, cfg.Engine.BatchConcurrency)
}

func (suite *ConfigTestSuite) TestLoadConfigFromEnv() {
	suite.T().Setenv("PROVIDER_API_KEY", "sk-test")
	suite.T().Setenv("PLANNER_BACKEND", "deterministic")

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "sk-test", cfg.Provider.APIKey)
	assert.Equal(suite.T(), "deterministic", cfg.Planner.Backend)
}

func (suite *ConfigTestSuite) TestLoadConfigDotEnv() {
	require.NoError(suite.T(), os.WriteFile(filepath.Join(suite.tempDir, ".env"), []byte("PROVIDER_MODEL=from-dotenv\n"), 0o644))
	suite.T().Cleanup(func() { os.Unsetenv("PROVIDER_MODEL") })

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "from-dotenv", cfg.Provider.Model)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	malformedContent := `
planner:
  backend: remote
  invalid_yaml: [unclosed bracket
`
	configFile := filepath.Join(suite.tempDir, "malformed.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(malformedContent), 0o644))

	cfg, err := LoadConfig(configFile)

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigRejectsInvalidValues() {
	configContent := `
planner:
  backend: psychic
engine:
  batch_concurrency: 0
`
	configFile := filepath.Join(suite.tempDir, "bad.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(configContent), 0o644))

	cfg, err := LoadConfig(configFile)

	require.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
	assert.Contains(suite.T(), err.Error(), "invalid configuration")
}

func (suite *ConfigTestSuite) TestAppConfigGlobal() {
	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), cfg.Planner.Backend, AppConfig.Planner.Backend)
}

// BenchmarkLoadConfig benchmarks config loading performance
func BenchmarkLoadConfig(b *testing.B) {
	for b.Loop() {
		if _, err := LoadConfig(""); err != nil {
			b.Fatal(err)
		}
	}
}
