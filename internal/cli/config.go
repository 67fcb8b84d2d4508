package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/retrieval"
)

const envPrefix = "VERITAS"

var optionalKeys = []string{
	"llm.api_key",
	"llm.base_url",
	"llm.http_proxy",
	"llm.https_proxy",
	"llm.no_proxy",
	"http.http_proxy",
	"http.https_proxy",
	"http.no_proxy",
	"retrieval.web_api_key",
}

// configDir returns ~/.veritas
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", eris.Wrap(err, "find home directory")
	}
	return filepath.Join(home, ".veritas"), nil
}

// Load layers the configuration: built-in defaults, then the config file
// (path, or ~/.veritas/config.yaml, or ./config.yaml), then VERITAS_*
// environment variables, then provider credentials from their usual
// environment variables.
func Load(path string) (*model.Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := setDefaults(v, model.DefaultConfig()); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		if dir, err := configDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var c model.Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	applyCredentials(&c, os.Getenv)
	return &c, nil
}

// setDefaults registers every key of the default config so that
// AutomaticEnv can override keys the config file does not mention.
func setDefaults(v *viper.Viper, defaults *model.Config) error {
	raw, err := yaml.Marshal(defaults)
	if err != nil {
		return eris.Wrap(err, "config: marshal defaults")
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return eris.Wrap(err, "config: decode defaults")
	}
	for key, val := range flatten("", tree) {
		v.SetDefault(key, val)
	}
	// omitempty fields are missing from the marshalled defaults
	for _, key := range optionalKeys {
		if err := v.BindEnv(key); err != nil {
			return eris.Wrapf(err, "config: bind %s", key)
		}
	}
	return nil
}

func flatten(prefix string, tree map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok && len(sub) > 0 {
			for sk, sv := range flatten(key, sub) {
				out[sk] = sv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// applyCredentials fills secrets that were not set in the config file
// from the conventional provider environment variables.
func applyCredentials(c *model.Config, getenv func(string) string) {
	if c.LLM.APIKey == "" {
		switch strings.ToLower(c.LLM.Provider) {
		case "openai":
			c.LLM.APIKey = getenv("OPENAI_API_KEY")
		case "anthropic", "claude":
			c.LLM.APIKey = getenv("ANTHROPIC_API_KEY")
		}
	}
	if c.LLM.BaseURL == "" {
		switch strings.ToLower(c.LLM.Provider) {
		case "ollama":
			c.LLM.BaseURL = getenv("OLLAMA_BASE_URL")
		case "llamacpp", "llama.cpp":
			c.LLM.BaseURL = getenv("LLM_ENDPOINT")
		}
	}
	if c.Retrieval.WebAPIKey == "" {
		switch c.Retrieval.WebProvider {
		case retrieval.ProviderSerpAPI:
			c.Retrieval.WebAPIKey = getenv("SERPAPI_KEY")
		case retrieval.ProviderTavily:
			c.Retrieval.WebAPIKey = getenv("TAVILY_API_KEY")
		}
	}
}

// InitLogger replaces the global zap logger
func InitLogger(lc model.LogConfig) error {
	var zapCfg zap.Config
	if lc.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level := lc.Level
	if level == "" {
		level = "info"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(lvl)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}

// redacted returns a copy of c that is safe to print
func redacted(c *model.Config) model.Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	out.LLM.APIKey = mask(out.LLM.APIKey)
	out.Retrieval.WebAPIKey = mask(out.Retrieval.WebAPIKey)
	return out
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Veritas configuration",
	Long: `Manage Veritas configuration files and settings.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (VERITAS_*, e.g. VERITAS_LLM_PROVIDER)
3. Config file (~/.veritas/config.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Configuration file: %s\n\n", cfgFile)
		}

		data, err := yaml.Marshal(redacted(cfg))
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		_, err = out.Write(data)
		return err
	},
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Long:  `Create ~/.veritas/config.yaml with every available option set to its default.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := configDir()
		if err != nil {
			return err
		}
		path := filepath.Join(dir, "config.yaml")
		if err := writeDefaultConfig(path, configInitForce); err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "✓ Created default configuration: %s\n", path)
		fmt.Fprintf(os.Stderr, "\nTo view the effective configuration:\n  veritas config show\n")
		return nil
	},
}

// writeDefaultConfig writes the documented defaults to path
func writeDefaultConfig(path string, force bool) (err error) {
	if _, statErr := os.Stat(path); statErr == nil && !force {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close config file: %w", closeErr)
		}
	}()

	header := `# Veritas configuration
#
# Configuration hierarchy (highest to lowest priority):
#   1. CLI flags
#   2. Environment variables (VERITAS_*)
#   3. This config file
#   4. Built-in defaults
#
# Credentials are better kept in the environment:
#   export OPENAI_API_KEY=sk-...
#   export ANTHROPIC_API_KEY=sk-ant-...
#   export OLLAMA_BASE_URL=http://localhost:11434
#   export LLM_ENDPOINT=http://localhost:8080
#   export SERPAPI_KEY=...
#   export TAVILY_API_KEY=...

`
	if _, err = f.WriteString(header); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
