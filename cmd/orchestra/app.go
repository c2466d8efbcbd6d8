package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"orchestra"
	"orchestra/internal/config"
	"orchestra/internal/ledger"
	"orchestra/internal/logging"
	"orchestra/internal/runner/tmux"
	"orchestra/internal/runner/tmuxsession"
	"orchestra/internal/version"

	"github.com/spf13/cobra"
)

type globalOptions struct {
	TmuxBinary string
	ConfigPath string
	LogLevel   string
}

// app owns the dependencies shared by all commands; each is built on first use.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	options globalOptions

	logger   *logging.Logger
	runtime  *config.Runtime
	cfg      *config.Config
	sessions *tmuxsession.Manager
	runs     *ledger.Store
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{in: in, out: out, errOut: errOut}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "orchestra",
		Short:         "Delegate tasks between coding agents running in tmux",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.options.TmuxBinary, "tmux", "tmux", "tmux binary to invoke")
	flags.StringVar(&a.options.ConfigPath, "config", "", "path to orchestra configuration file")
	flags.StringVar(&a.options.LogLevel, "log-level", "", "log level (debug, info, warning, error)")

	root.AddCommand(
		a.delegateCommand(),
		a.sessionCommand(),
		a.runCommand(),
		a.versionCommand(),
	)
	return root
}

func (a *app) close() {
	a.logger.Sync()
}

func (a *app) log() *logging.Logger {
	if a.logger != nil {
		return a.logger
	}
	level := logging.LevelFromEnv(logging.LevelWarning)
	if parsed, ok := logging.ParseLevel(a.options.LogLevel); ok {
		level = parsed
	}
	a.logger = logging.NewLoggerWithOutput(level, logging.FormatConsole, a.errOut)
	return a.logger
}

func (a *app) runtimeSettings() config.Runtime {
	if a.runtime == nil {
		runtime := config.RuntimeFromEnv(os.Getenv)
		for _, warning := range runtime.Warnings {
			a.log().Warn("ignoring environment override", map[string]string{"reason": warning})
		}
		a.runtime = &runtime
	}
	return *a.runtime
}

func (a *app) agents() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.Load(config.LoadOptions{
		Path:     a.options.ConfigPath,
		Defaults: orchestra.DefaultConfig,
	})
	if err != nil {
		return nil, &configError{err: err}
	}
	a.log().Debug("config loaded", map[string]string{"source": cfg.Source})
	a.cfg = cfg
	return cfg, nil
}

func (a *app) manager() *tmuxsession.Manager {
	if a.sessions == nil {
		runtime := a.runtimeSettings()
		client := tmux.NewClientWithOptions(tmux.Options{
			Binary: a.options.TmuxBinary,
			Socket: runtime.TmuxSocket,
		})
		a.sessions = tmuxsession.NewManager(client, tmuxsession.Options{
			SpawnTimeout: runtime.SpawnTimeout,
			PollInterval: runtime.SpawnPollInterval,
			Logger:       a.log(),
			Stdin:        a.in,
			Stdout:       a.out,
			Stderr:       a.errOut,
		})
	}
	return a.sessions
}

func (a *app) ledger() *ledger.Store {
	if a.runs == nil {
		a.runs = ledger.NewStore(a.runtimeSettings().RunHistoryPath(), a.log())
	}
	return a.runs
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the orchestra version",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			fmt.Fprintln(a.out, version.GetVersionInfo().String())
			return nil
		},
	}
}

func seconds(value float64) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value * float64(time.Second))
}
