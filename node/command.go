package node

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/peerpull/go-peerpull/cmd"
	"github.com/peerpull/go-peerpull/config"
	"github.com/peerpull/go-peerpull/config/presets"
	"github.com/peerpull/go-peerpull/log"
	"github.com/peerpull/go-peerpull/notification"
)

const cleanupTimeout = 30 * time.Second

// GetCommand returns the root command of the peerpull executable.
func GetCommand() *cobra.Command {
	conf := config.DefaultConfig()
	var configPath *string
	c := &cobra.Command{
		Use:   "peerpull",
		Short: "notify peers, then replicate from them",
		RunE: func(c *cobra.Command, args []string) error {
			if err := configure(c, *configPath, &conf); err != nil {
				return err
			}
			logger, err := newLogger(&conf)
			if err != nil {
				return err
			}
			app := New(
				WithConfig(&conf),
				WithLogger(logger),
			)

			// os.Interrupt for all systems, syscall.SIGTERM is mainly for docker.
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := app.Lock(); err != nil {
				return fmt.Errorf("getting exclusive file lock: %w", err)
			}
			defer app.Unlock()

			// Don't print usage on error from this point forward
			c.SilenceUsage = true
			return run(ctx, app)
		},
	}

	configPath = cmd.AddFlags(c.PersistentFlags(), &conf)

	c.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(c *cobra.Command, args []string) {
			fmt.Fprint(c.OutOrStdout(), cmd.Version)
			if cmd.Commit != "" {
				fmt.Fprintf(c.OutOrStdout(), "+%s", cmd.Commit)
			}
			fmt.Fprintln(c.OutOrStdout())
		},
	})
	c.AddCommand(&cobra.Command{
		Use:          "key",
		Short:        "Print the public key of the node, creating the identity if needed",
		SilenceUsage: true,
		RunE: func(c *cobra.Command, args []string) error {
			if err := configure(c, *configPath, &conf); err != nil {
				return err
			}
			kp, err := notification.LoadOrCreateKeyPair(afero.NewOsFs(), conf.KeyPath())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "%s\nkey id: %s\n", kp.Public, kp.Public.KeyID())
			return nil
		},
	})
	return c
}

// configure loads the preset and the config file into conf. Flags given on
// the command line take precedence over both.
func configure(c *cobra.Command, configPath string, conf *config.Config) error {
	changed := make(map[string]string)
	c.Flags().Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})
	preset := conf.Preset // might be set via CLI flag
	if err := loadConfig(conf, preset, configPath); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// apply CLI args to config
	for name, value := range changed {
		if err := c.Flags().Set(name, value); err != nil {
			return fmt.Errorf("applying flag %s: %w", name, err)
		}
	}
	if configPath != "" {
		conf.ConfigFile = configPath
	}
	return nil
}

// loadConfig loads config and preset (if provided) into the provided config.
// It first loads the preset and then overrides it with values from the config file.
func loadConfig(cfg *config.Config, preset, path string) error {
	v := viper.New()
	if err := config.LoadConfig(path, v); err != nil {
		return err
	}

	// override default config with preset if provided
	if len(preset) == 0 && v.IsSet("main.preset") {
		preset = v.GetString("main.preset")
	}
	if len(preset) > 0 {
		p, err := presets.Get(preset)
		if err != nil {
			return err
		}
		*cfg = p
		cfg.Preset = preset
	}
	return config.Decode(v, cfg)
}

func newLogger(conf *config.Config) (*zap.Logger, error) {
	level, err := log.ParseLevel(conf.Logging.Level)
	if err != nil {
		return nil, err
	}
	return log.NewWithLevel("peerpull", level, conf.Logging.Encoder), nil
}

// run blocks until ctx is done, feeding availability events into the app
// meanwhile.
func run(ctx context.Context, app *App) error {
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		done := make(chan struct{})
		go func() {
			app.Stop(cleanupCtx)
			close(done)
		}()
		select {
		case <-done:
		case <-cleanupCtx.Done():
			app.logger.Error("app failed to clean up in time")
		}
	}()

	events, err := openEvents(app.fs, app.Config.Events)
	if err != nil {
		return err
	}
	if events != nil {
		defer events.Close()
		if err := app.ReadEvents(ctx, events); err != nil && ctx.Err() == nil {
			return err
		}
		app.logger.Info("availability events exhausted")
	}
	<-ctx.Done()
	return nil
}

func openEvents(fsys afero.Fs, path string) (io.ReadCloser, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		return io.NopCloser(os.Stdin), nil
	}
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	return f, nil
}
