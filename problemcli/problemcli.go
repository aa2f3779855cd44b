// Package problemcli is an optional command-line bootstrap for
// services using the rollout manager. It exposes every simple rollout
// configuration field as a flag, binds the matching RFC7807_*
// environment variables, and ships a `config` command that prints the
// resolved configuration together with its advisory validation
// issues.
package problemcli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/danielgtaylor/casing"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/apicompat/problem/compat"
)

// CLI wraps a cobra root command bound to the rollout configuration.
type CLI struct {
	root    *cobra.Command
	v       *viper.Viper
	log     *zap.Logger
	onStart func(*compat.Manager)
	onStop  func()
}

// Option configures a CLI.
type Option func(*CLI)

// WithCLILogger sets the logger for configuration warnings.
func WithCLILogger(log *zap.Logger) Option {
	return func(c *CLI) { c.log = log }
}

// New builds the CLI for a named service.
func New(name, version string, opts ...Option) *CLI {
	cli := &CLI{
		v:   viper.New(),
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cli)
	}

	cli.v.SetEnvPrefix("RFC7807")
	cli.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	cli.v.AutomaticEnv()

	cli.root = &cobra.Command{
		Use:     name,
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.Config()
			if err != nil {
				return err
			}
			manager := compat.NewManager(cfg, compat.WithLogger(cli.log))

			if cli.onStart == nil {
				return nil
			}
			done := make(chan os.Signal, 1)
			signal.Notify(done, os.Interrupt, syscall.SIGTERM)
			go cli.onStart(manager)
			<-done
			if cli.onStop != nil {
				cli.onStop()
			}
			return nil
		},
	}

	cli.bindFlags(cli.root.PersistentFlags())

	cli.root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the resolved rollout configuration and its advisory issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.Config()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			for _, issue := range cfg.Validate() {
				fmt.Fprintln(cmd.OutOrStdout(), "issue:", issue)
			}
			return nil
		},
	})

	return cli
}

// bindFlags derives one flag per simple configuration field, named
// after the field's wire key: detection_cache_size becomes
// --detection-cache-size and RFC7807_DETECTION_CACHE_SIZE.
func (c *CLI) bindFlags(flags *pflag.FlagSet) {
	defaults := compat.DefaultConfig()

	t := reflect.TypeOf(defaults)
	v := reflect.ValueOf(defaults)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := wireKey(field)
		if key == "" {
			continue
		}
		name := casing.Kebab(key)

		switch field.Type.Kind() {
		case reflect.Bool:
			flags.Bool(name, v.Field(i).Bool(), "")
		case reflect.Int:
			flags.Int(name, int(v.Field(i).Int()), "")
		case reflect.String:
			flags.String(name, v.Field(i).String(), "")
		default:
			continue
		}
		_ = c.v.BindPFlag(name, flags.Lookup(name))
	}
}

func wireKey(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" || tag == "-" {
		return ""
	}
	return strings.Split(tag, ",")[0]
}

// Config resolves the configuration from defaults, environment and
// flags (in increasing precedence). An unrecognized rollout mode is
// warned about and the default retained, mirroring the environment
// loader's behavior.
func (c *CLI) Config() (compat.Config, error) {
	defaults := compat.DefaultConfig()
	data := make(map[string]any)

	t := reflect.TypeOf(defaults)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := wireKey(field)
		if key == "" {
			continue
		}
		switch field.Type.Kind() {
		case reflect.Bool, reflect.Int, reflect.String:
			data[key] = c.v.Get(casing.Kebab(key))
		}
	}

	if raw, ok := data["mode"].(string); ok {
		if _, err := compat.ParseRolloutMode(raw); err != nil {
			c.log.Warn("ignoring unrecognized rollout mode", zap.String("mode", raw))
			delete(data, "mode")
		}
	}

	return compat.FromMap(data)
}

// OnStart sets the callback run by the default command once the
// manager is built. It runs on its own goroutine; the command waits
// for SIGINT/SIGTERM.
func (c *CLI) OnStart(fn func(*compat.Manager)) { c.onStart = fn }

// OnStop sets the shutdown callback.
func (c *CLI) OnStop(fn func()) { c.onStop = fn }

// Root returns the cobra root command for customization.
func (c *CLI) Root() *cobra.Command { return c.root }

// Run executes the CLI.
func (c *CLI) Run() error { return c.root.Execute() }
