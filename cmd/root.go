// Package cmd defines and implements the CLI commands for the wikindex executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikindex/internal/app"
	"github.com/JakeFAU/wikindex/internal/config"
	"github.com/JakeFAU/wikindex/internal/logging"
	"github.com/JakeFAU/wikindex/internal/pipeline"
	"github.com/JakeFAU/wikindex/internal/store"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// viperKeyAnnotation marks a flag with the config key it overrides.
const viperKeyAnnotation = "wikindex_viper_key"

// App defines the application interface that commands will use.
// This allows us to inject a test app during tests.
type App interface {
	Logger() *zap.Logger
	Runner() *pipeline.Runner
	Runs() store.RunReader
	Config() config.Config
	Close(ctx context.Context)
}

// appFactory builds the App once configuration is loaded.
type appFactory func(ctx context.Context, cfg config.Config) (App, error)

func defaultAppFactory(ctx context.Context, cfg config.Config) (App, error) {
	return app.New(ctx, cfg)
}

// newRootCmd creates and configures the root command and its subcommands.
func newRootCmd(newApp appFactory) *cobra.Command {
	v := config.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "wikindex",
		Short: "Builds an inverted index over a bounded crawl of a wiki.",
		Long: `wikindex crawls outward from a seed page in bounded parallel waves,
maps every visited page against a vocabulary, and reduces the partial
postings into a sorted term -> URL index.`,
		SilenceUsage: true,

		// Flags are parsed by now, so they can be bound before the config is read.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(cmd.Context())
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	flags.Bool("dev", false, "use development logging")
	flags.String("log-level", "", "minimum log level: debug, info, warn or error")
	flags.String("source", config.SourceWiki, "content source: wiki or fixture")
	flags.String("fixture", "", "fixture graph file used when --source=fixture")
	annotate(flags, "dev", "logging.development")
	annotate(flags, "log-level", "logging.level")
	annotate(flags, "source", "source.kind")
	annotate(flags, "fixture", "source.fixture")

	cmd.AddCommand(
		newCrawlCmd(),
		newMapCmd(),
		newReduceCmd(),
		newIndexCmd(),
		newServeCmd(),
	)
	return cmd
}

// annotate ties flag name to a viper key. It panics on an unknown flag,
// which is a programming error.
func annotate(fs *pflag.FlagSet, name, key string) {
	if err := fs.SetAnnotation(name, viperKeyAnnotation, []string{key}); err != nil {
		panic(err)
	}
}

// bindFlags binds every annotated flag in fs to its viper key. Unchanged
// flags fall through to env, file and default values.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[viperKeyAnnotation]
		if len(keys) == 0 {
			return
		}
		if err := v.BindPFlag(keys[0], f); err != nil {
			errs = append(errs, fmt.Errorf("bind flag %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd(defaultAppFactory).ExecuteContext(context.Background()); err != nil {
		logger, lerr := logging.New(logging.Config{})
		if lerr != nil {
			fmt.Fprintf(os.Stderr, "command execution failed: %v\n", err)
			os.Exit(1)
		}
		logger.Fatal("Command execution failed", zap.Error(err))
	}
}
