package cli

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chorus/internal/character"
	"chorus/internal/config"
	"chorus/internal/cron"
	"chorus/internal/server"
)

// 敏感配置键（需要脱敏）
var sensitiveKeys = map[string]bool{
	"storage.dsn": true,
	"nats.token":  true,
}

// NewConfigCmd 创建 config 命令组
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  "Get, set, list, validate and edit configuration values",
	}

	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigListCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigEditCmd())
	cmd.AddCommand(newConfigValidateCmd())

	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := config.Get(args[0])
			if value == nil {
				return fmt.Errorf("key not found: %s", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Set(args[0], args[1]); err != nil {
				return fmt.Errorf("set config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", args[0], args[1])
			return nil
		},
	}
}

func newConfigListCmd() *cobra.Command {
	var showAll bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all configuration values",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := flattenSettings("", viper.AllSettings())
			sort.Strings(keys)

			out := cmd.OutOrStdout()
			for _, key := range keys {
				value := viper.Get(key)
				// 角色列表里有密钥，只显示数量
				if key == "characters" && !showAll {
					if list, ok := value.([]any); ok {
						value = fmt.Sprintf("(%d entries)", len(list))
					}
				}
				if sensitiveKeys[key] && !showAll {
					if s, ok := value.(string); ok && s != "" {
						value = maskValue(s)
					}
				}
				fmt.Fprintf(out, "%s = %v\n", key, value)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showAll, "all", false, "show sensitive values")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cliCtx := GetCLIContext(cmd); cliCtx != nil && cliCtx.ConfigPath != "" {
				fmt.Fprintln(cmd.OutOrStdout(), cliCtx.ConfigPath)
				return nil
			}
			path, err := config.DefaultConfigPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newConfigEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit",
		Short: "Edit configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.DefaultConfigPath()
			if cliCtx := GetCLIContext(cmd); cliCtx != nil && cliCtx.ConfigPath != "" {
				path, err = cliCtx.ConfigPath, nil
			}
			if err != nil {
				return err
			}

			editor := os.Getenv("EDITOR")
			if editor == "" {
				editor = os.Getenv("VISUAL")
			}
			if editor == "" {
				editor = "vi"
			}

			c := exec.Command(editor, path)
			c.Stdin = os.Stdin
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			return c.Run()
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return fmt.Errorf("CLI context not initialized")
			}
			problems := validateConfig(cliCtx.Config)
			out := cmd.OutOrStdout()
			for _, p := range problems {
				fmt.Fprintln(out, "✗", p)
			}
			if len(problems) > 0 {
				return fmt.Errorf("%d problem(s) found", len(problems))
			}
			fmt.Fprintln(out, "✓ configuration is valid")
			return nil
		},
	}
}

// validateConfig returns human readable problems of cfg.
func validateConfig(cfg *config.Config) []string {
	var problems []string
	if err := server.EngineConfig(cfg.Engine, cfg.BotsUnavailable).Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if cfg.Cron.Enabled {
		if _, err := cron.ParseSpec(cfg.Cron.Spec); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if _, err := server.ToolRegistry(cfg.Tools); err != nil {
		problems = append(problems, err.Error())
	}
	switch cfg.Storage.Driver {
	case "", "sqlite":
	case "postgres":
		if cfg.Storage.DSN == "" {
			problems = append(problems, "storage.dsn is required for postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage driver %q", cfg.Storage.Driver))
	}

	usable := 0
	for _, cc := range cfg.Characters {
		p := character.FromConfig(cc)
		switch {
		case p.Character == "":
			problems = append(problems, "a character entry has no character id")
		case p.Usable():
			usable++
		case !p.Retired:
			problems = append(problems, fmt.Sprintf("character %s (%s) is not usable: check model, base_url and api key", p.Character, p.Model))
		}
	}
	if usable == 0 {
		problems = append(problems, "no usable character configured")
	}
	return problems
}

// flattenSettings 将嵌套配置展平为点分隔的键列表
func flattenSettings(prefix string, settings map[string]any) []string {
	var keys []string
	for k, v := range settings {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			keys = append(keys, flattenSettings(key, nested)...)
		} else {
			keys = append(keys, key)
		}
	}
	return keys
}

// maskValue 脱敏处理
func maskValue(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
