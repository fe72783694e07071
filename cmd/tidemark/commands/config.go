package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fathomdata/tidemark/config"
	"github.com/fathomdata/tidemark/errors"
)

// ConfigCmd manages Tidemark configuration.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Display and manage Tidemark configuration.

Configuration sources (in order of precedence):
1. Environment variables (TIDEMARK_* prefix)
2. Project config (./tidemark.toml, searched up the directory tree)
3. User config (~/.tidemark/tidemark.toml)
4. System config (/etc/tidemark/tidemark.toml)
5. Default values

Examples:
  tidemark config show                     # Show current configuration
  tidemark config show --format json      # Show configuration as JSON
  tidemark config get scheduler.workers   # Get a specific value
  tidemark config set scheduler.workers 8 # Write a value to the user config
  tidemark config validate                 # Validate current configuration`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Long:  "Get a configuration value using dot notation (e.g. database.path, scheduler.workers)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Write a configuration value to the user config file",
	Long: `Write a configuration value to ~/.tidemark/tidemark.toml.

Numbers and booleans are stored typed; everything else is a string. A
running daemon picks up provider rate-limit changes without a restart.

Examples:
  tidemark config set scheduler.workers 8
  tidemark config set providers.alphavantage.requests_per_minute 5`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runConfigValidate,
}

var configWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runConfigWhere,
}

var configFormat string

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configGetCmd)
	ConfigCmd.AddCommand(configSetCmd)
	ConfigCmd.AddCommand(configValidateCmd)
	ConfigCmd.AddCommand(configWhereCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Printf("# Tidemark configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Printf("# Tidemark configuration\n%s", string(data))

	default:
		return errors.NewValidationError("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	v := config.GetViper()
	if !v.IsSet(key) {
		return errors.NewNotFoundError("configuration key %q not found", key)
	}

	fmt.Println(config.Get(key))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]

	var err error
	switch {
	case key == "scheduler.workers":
		workers, convErr := strconv.Atoi(raw)
		if convErr != nil || workers < 0 {
			return errors.NewValidationError("scheduler.workers wants a non-negative integer, got %q", raw)
		}
		err = config.UpdateSchedulerWorkers(workers)

	case strings.HasPrefix(key, "providers.") && strings.HasSuffix(key, ".requests_per_minute"):
		name := strings.TrimSuffix(strings.TrimPrefix(key, "providers."), ".requests_per_minute")
		rpm, convErr := strconv.Atoi(raw)
		if convErr != nil || rpm < 0 {
			return errors.NewValidationError("requests_per_minute wants a non-negative integer, got %q", raw)
		}
		err = config.UpdateProviderRate(name, rpm)

	default:
		err = config.SetValue(key, parseConfigValue(raw))
	}
	if err != nil {
		return errors.Wrapf(err, "failed to set %s", key)
	}

	pterm.Success.Printfln("Set %s = %s", key, raw)
	pterm.Printfln("  Written to %s", config.GetUserConfigPath())
	return nil
}

// parseConfigValue keeps numbers and booleans typed so TOML output stays
// usable.
func parseConfigValue(raw string) interface{} {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}

	pterm.Success.Println("Configuration is valid")
	return nil
}

func runConfigWhere(cmd *cobra.Command, args []string) error {
	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  1. [DEFAULT] Built-in defaults")

	homeDir, _ := os.UserHomeDir()
	sources := []struct {
		label string
		path  string
	}{
		{"SYSTEM ", "/etc/tidemark/tidemark.toml"},
		{"USER   ", filepath.Join(homeDir, ".tidemark", "tidemark.toml")},
	}
	for i, src := range sources {
		marker := "missing"
		if _, err := os.Stat(src.path); err == nil {
			marker = "found"
		}
		fmt.Printf("  %d. [%s] %s (%s)\n", i+2, src.label, src.path, marker)
	}

	if projectPath := config.FindProjectConfig(); projectPath != "" {
		fmt.Printf("  4. [PROJECT] %s (found)\n", projectPath)
	} else {
		fmt.Println("  4. [PROJECT] tidemark.toml, searched up the directory tree (missing)")
	}
	fmt.Println("  5. [ENV    ] TIDEMARK_* environment variables")
	return nil
}
