package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"stakeproof/internal/app"
	"stakeproof/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "sp",
	Short: "Stakeproof CLI",
	Long: `Stakeproof runs staked missions that are settled on evidence.
Core concepts:
- Mission: a goal you put coins on. Finish it with approved evidence and the stake pays out; fail and it is gone.
- Evidence: a photo, video or note backing your progress. An automated assessor judges it first, then the community votes.
- Verdict: the weighted mix of the automated judgment and the votes. Voters who agree with it earn coins; the rest pay a penalty.
- Review: once you have approved evidence, submit the mission for a final evaluation that completes or fails it.
- Progress: completed missions level up their category; recommendations draw on your levels, schedule and preferences.
- Suggestions: generated mission ideas from your interests and goals.
- Workspace: the .stakeproof directory holding the SQLite database, next to stakeproof.yml.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STAKEPROOF")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("user", "u", "local-user", "acting user id")
	rootCmd.PersistentFlags().String("driver", "", "storage driver override (memory or sqlite)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	for _, name := range []string{"workspace", "json", "user", "driver", "verbose"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(missionCmd())
	rootCmd.AddCommand(evidenceCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(recommendCmd())
	rootCmd.AddCommand(suggestCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger() (*zap.Logger, error) {
	if viper.GetBool("verbose") {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// loadConfig reads stakeproof.yml from the workspace. Without a file the
// CLI stores data in the workspace SQLite database.
func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(config.Path(workspace)); os.IsNotExist(statErr) {
		cfg.Storage.Driver = config.DriverSQLite
	}
	if d := viper.GetString("driver"); d != "" {
		cfg.Storage.Driver = d
	}
	cfg.Storage.Workspace = workspace
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	a, err := app.Build(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func currentUser() string {
	return strings.TrimSpace(viper.GetString("user"))
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage stakeproof.yml",
		Long:  "Config holds the economy (stakes, rewards, penalties), verification weights and quorum, suggestion limits, the Gemini model, storage and webhooks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default stakeproof.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			content := strings.Replace(config.GenerateDefault(), "driver: memory", "driver: sqlite", 1)
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate stakeproof.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}
