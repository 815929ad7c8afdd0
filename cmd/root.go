// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/studypilot/internal/config"
	"github.com/xkilldash9x/studypilot/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// flagKeyAnnotation ties a command flag to the configuration key it overrides.
const flagKeyAnnotation = "studypilot/config-key"

// envPrefix namespaces environment overrides, e.g. STUDYPILOT_PIPELINE_RESUME.
const envPrefix = "STUDYPILOT"

var rootCmd = NewRootCommand()

// NewRootCommand builds the command tree. Every call returns an independent
// tree, so tests never share flag state.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "studypilot",
		Short:        "StudyPilot works through the courses and practices of an e-learning site.",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				observability.InitializeLogger(fallbackLoggerConfig())
				return err
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Info("Starting StudyPilot", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringP("config", "c", "", "YAML config file (default is ./studypilot.yaml when present)")
	cmd.PersistentFlags().String("credentials", config.DefaultCredentialsFile, "flat KEY=VALUE credentials file")
	cmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newClassifyCmd())
	cmd.AddCommand(newFollowCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the root command with the signal-aware context from main.
func Execute(ctx context.Context) error {
	defer observability.Sync()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger := observability.GetLogger()
		if errors.Is(err, context.Canceled) {
			logger.Info("Interrupted, shutting down.")
		} else {
			logger.Error("Command execution failed", zap.Error(err))
		}
		return err
	}
	return nil
}

// loadConfig layers defaults, the YAML file, the flat credentials file, the
// environment and flags, then validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	if err := initializeConfig(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load or validate config: %w", err)
	}
	return cfg, nil
}

func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("studypilot")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	credentials, _ := cmd.Flags().GetString("credentials")
	if err := config.LoadFlatFile(v, credentials, cmd.Flags().Changed("credentials")); err != nil {
		return err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return bindAnnotatedFlags(cmd.Flags(), v)
}

// bindAnnotatedFlags binds every flag carrying a config key annotation.
func bindAnnotatedFlags(flags *pflag.FlagSet, v *viper.Viper) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		keys, ok := f.Annotations[flagKeyAnnotation]
		if !ok || len(keys) == 0 || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(keys[0], f)
	})
	return bindErr
}

// configFlag marks an existing flag as an override for key.
func configFlag(cmd *cobra.Command, name, key string) {
	_ = cmd.Flags().SetAnnotation(name, flagKeyAnnotation, []string{key})
}

// getConfigFromContext returns the configuration stored by the root command.
func getConfigFromContext(ctx context.Context) (config.Interface, error) {
	cfg, ok := ctx.Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// skipConfig replaces the root's config loading for commands that work
// offline and need no credentials.
func skipConfig(cmd *cobra.Command, _ []string) error {
	observability.InitializeLogger(fallbackLoggerConfig())
	return nil
}

func fallbackLoggerConfig() config.LoggerConfig {
	return config.LoggerConfig{Level: "info", Format: "console", ServiceName: "studypilot"}
}
