// Package main provides annotator-cli, a command line client for the
// annotation backend: rule and conversation maintenance, annotating by
// offsets, terminal rendering of highlights and live change notifications.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xiaot623/annotator/internal/adapter/backend"
	"github.com/xiaot623/annotator/internal/config"
	"github.com/xiaot623/annotator/internal/fixture"
	"github.com/xiaot623/annotator/internal/logger"
	"github.com/xiaot623/annotator/internal/workbench"
)

// app carries the resolved settings shared by every command.
type app struct {
	v *viper.Viper
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ANNOTATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("backend-url", "http://localhost:8000/api")
	v.SetDefault("ws-url", "ws://localhost:8000/ws")
	v.SetDefault("timeout", backend.DefaultTimeout)
	v.SetDefault("annotator", "cli")
	v.SetDefault("log-level", "warn")
	return v
}

func (a *app) backendURL() string { return a.v.GetString("backend-url") }
func (a *app) wsURL() string      { return a.v.GetString("ws-url") }
func (a *app) annotator() string  { return a.v.GetString("annotator") }

// client returns the REST client. Maintenance commands need a live backend.
func (a *app) client() (*backend.Client, error) {
	if a.backendURL() == config.FixtureBackend {
		return nil, fmt.Errorf("this command needs a running backend, not %q", config.FixtureBackend)
	}
	return backend.NewClient(a.backendURL(), a.v.GetDuration("timeout")), nil
}

// source returns the data source used for reading and annotating.
func (a *app) source() workbench.Source {
	if a.backendURL() == config.FixtureBackend {
		return fixture.NewSource(fixture.Demo())
	}
	return backend.NewClient(a.backendURL(), a.v.GetDuration("timeout"))
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	a := &app{v: v}
	root := &cobra.Command{
		Use:           "annotator-cli",
		Short:         "Command line client for the conversation annotation backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Setup(v.GetString("log-level"), "text")
		},
	}

	flags := root.PersistentFlags()
	flags.String("backend-url", v.GetString("backend-url"), "backend REST base URL, or \"fixture\" for the embedded demo dataset")
	flags.String("ws-url", v.GetString("ws-url"), "change notification websocket URL")
	flags.Duration("timeout", v.GetDuration("timeout"), "per-request timeout")
	flags.String("annotator", v.GetString("annotator"), "annotator recorded on created annotations")
	flags.String("log-level", v.GetString("log-level"), "log level (debug, info, warn, error)")
	for _, name := range []string{"backend-url", "ws-url", "timeout", "annotator", "log-level"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		rulesCmd(a),
		conversationsCmd(a),
		annotationsCmd(a),
		annotateCmd(a),
		renderCmd(a),
		watchCmd(a),
		healthCmd(a),
	)
	return root
}

func healthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			if err := c.Health(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(newViper())
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
