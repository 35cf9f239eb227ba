package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/meshrelay/internal/adapters/gemini"
	"github.com/bft-labs/meshrelay/internal/adapters/matrix"
	"github.com/bft-labs/meshrelay/internal/adapters/sqlite"
	"github.com/bft-labs/meshrelay/internal/cliconfig"
	"github.com/bft-labs/meshrelay/pkg/log"
	"github.com/bft-labs/meshrelay/pkg/meshrelay"
	"github.com/bft-labs/meshrelay/plugins/configwatcher"
	"github.com/bft-labs/meshrelay/plugins/journalprune"
	"github.com/bft-labs/meshrelay/plugins/statsreport"
)

const helpDescription = `
Share one Meshtastic gateway between many TCP clients.

Highlights:
  - Every client sees every packet the gateway sends; channels are never rewritten.
  - Reconnects to the gateway with exponential backoff; clients stay connected.
  - Text starting with /gem is answered by Gemini on the bot channel.
  - Optional Matrix room bridge and SQLite command journal.
  - Configure via file, env (MESHRELAY_*), or flags.
`

var exampleUsage = strings.TrimSpace(`
  meshrelay --upstream-host 192.168.1.50
  GEMINI_API_KEY=... meshrelay --bot-channel 2 --trigger /gem
  meshrelay --config $HOME/.meshrelay/config.toml --debug
  meshrelay history --limit 10
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// loadConfig layers file, env and flags onto cfg and validates the result.
// It returns the config file path if one was read.
func loadConfig(cmd *cobra.Command, cfgPath string, cfg *cliconfig.Config) (string, map[string]bool, error) {
	cfgFile := cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return "", nil, fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return "", nil, err
		}
	} else if cfgPath != "" {
		return "", nil, fmt.Errorf("config file %s not found", cfgPath)
	} else {
		cfgFile = ""
	}

	if err := cliconfig.ApplyEnvConfig(cfg, changed); err != nil {
		return "", nil, err
	}
	if err := cfg.Validate(); err != nil {
		return "", nil, err
	}
	return cfgFile, changed, nil
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	logger := log.NewZerologAdapter(cfg.LogLevel)

	root := &cobra.Command{
		Use:           "meshrelay",
		Short:         "Multi-client TCP proxy for a Meshtastic gateway",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, changed, err := loadConfig(cmd, cfgPath, &cfg)
			if err != nil {
				return err
			}

			logger = log.NewZerologAdapter(cfg.Level())
			zl := logger.Logger()

			logCfg := cfg
			if logCfg.GeminiAPIKey != "" {
				logCfg.GeminiAPIKey = "*****"
			}
			if logCfg.MatrixToken != "" {
				logCfg.MatrixToken = "*****"
			}
			zl.Debug().Interface("config", logCfg).Msg("configuration")

			opts := []meshrelay.Option{
				meshrelay.WithLogger(logger),
				meshrelay.WithEventHandler(&stateLogger{logger: logger}),
			}

			if cfg.GeminiAPIKey != "" {
				answerer, err := gemini.New(gemini.Config{
					APIKey:   cfg.GeminiAPIKey,
					Model:    cfg.GeminiModel,
					MaxChars: cfg.GeminiMaxChars,
				}, &http.Client{Timeout: cfg.AITimeout}, logger)
				if err != nil {
					return err
				}
				opts = append(opts, meshrelay.WithAnswerer(answerer))
			} else {
				zl.Warn().Msg("no Gemini API key; trigger commands will get no answer")
			}

			if cfg.MatrixEnabled() {
				bridge, err := matrix.New(matrix.Config{
					Homeserver:  cfg.MatrixHomeserver,
					UserID:      cfg.MatrixUserID,
					AccessToken: cfg.MatrixToken,
					RoomID:      cfg.MatrixRoomID,
				}, logger)
				if err != nil {
					return err
				}
				opts = append(opts, meshrelay.WithBridge(bridge))
			}

			if cfg.JournalPath != "" {
				journal, err := sqlite.Open(cfg.JournalPath, logger)
				if err != nil {
					return fmt.Errorf("open journal: %w", err)
				}
				defer journal.Close()
				opts = append(opts,
					meshrelay.WithJournal(journal),
					journalprune.WithDefaultJournalPrune(),
				)
			}

			opts = append(opts, statsreport.WithDefaultStatsReport())

			if cfgFile != "" {
				opts = append(opts,
					meshrelay.WithConfigPath(cfgFile),
					configwatcher.WithConfigWatcher(configwatcher.Config{Changed: changed}),
				)
			}

			r, err := meshrelay.New(cfg.ToRelayConfig(), opts...)
			if err != nil {
				return fmt.Errorf("create relay: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := r.Start(ctx); err != nil {
				return fmt.Errorf("start relay: %w", err)
			}
			printBanner(cfg, r)

			// Wait for a signal or a crash.
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
		wait:
			for {
				select {
				case <-ctx.Done():
					zl.Info().Msg("received signal, stopping...")
					break wait
				case <-ticker.C:
					if r.Status() == meshrelay.StateCrashed {
						zl.Error().Str("reason", r.LastTransition().Reason).Msg("relay crashed")
						break wait
					}
				}
			}

			if err := r.Stop(); err != nil && !errors.Is(err, meshrelay.ErrNotRunning) {
				return fmt.Errorf("stop relay: %w", err)
			}
			return nil
		},
	}

	f := root.Flags()
	f.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.meshrelay/config.toml)")

	f.StringVar(&cfg.ListenHost, "listen-host", cfg.ListenHost, "address clients connect to")
	f.IntVar(&cfg.ListenPort, "listen-port", cfg.ListenPort, "port clients connect to")
	f.IntVar(&cfg.MaxClients, "max-clients", cfg.MaxClients, "maximum concurrent clients")
	f.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "outbound frames buffered per client")

	f.StringVar(&cfg.UpstreamHost, "upstream-host", cfg.UpstreamHost, "Meshtastic gateway host")
	f.IntVar(&cfg.UpstreamPort, "upstream-port", cfg.UpstreamPort, "Meshtastic gateway TCP API port")
	f.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "gateway connect timeout")
	f.DurationVar(&cfg.BackoffBase, "backoff-base", cfg.BackoffBase, "first reconnect delay")
	f.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "reconnect delay ceiling")
	f.Float64Var(&cfg.BackoffJitter, "backoff-jitter", cfg.BackoffJitter, "reconnect delay jitter fraction [0,1]")

	f.StringVar(&cfg.TriggerPrefix, "trigger", cfg.TriggerPrefix, "command prefix answered by the AI")
	f.IntVar(&cfg.BotChannel, "bot-channel", cfg.BotChannel, "channel index answers are sent on (0-7)")
	f.DurationVar(&cfg.ResponseDelay, "response-delay", cfg.ResponseDelay, "pause before each answer is transmitted")
	f.DurationVar(&cfg.AITimeout, "ai-timeout", cfg.AITimeout, "maximum time to wait for an answer")
	f.IntVar(&cfg.MaxPending, "max-pending", cfg.MaxPending, "maximum commands in flight")
	f.IntVar(&cfg.MaxAnswerBytes, "max-answer-bytes", cfg.MaxAnswerBytes, "answer size limit in bytes")
	f.BoolVar(&cfg.NotifyFailures, "notify-failures", cfg.NotifyFailures, "tell the asker when an answer fails")

	f.StringVar(&cfg.GeminiAPIKey, "gemini-api-key", cfg.GeminiAPIKey, "Gemini API key (or GEMINI_API_KEY)")
	f.StringVar(&cfg.GeminiModel, "gemini-model", cfg.GeminiModel, "Gemini model name")
	f.IntVar(&cfg.GeminiMaxChars, "gemini-max-chars", cfg.GeminiMaxChars, "answer length requested from Gemini")

	f.StringVar(&cfg.MatrixHomeserver, "matrix-homeserver", cfg.MatrixHomeserver, "Matrix homeserver URL")
	f.StringVar(&cfg.MatrixUserID, "matrix-user", cfg.MatrixUserID, "Matrix bot user ID")
	f.StringVar(&cfg.MatrixToken, "matrix-token", cfg.MatrixToken, "Matrix access token")
	f.StringVar(&cfg.MatrixRoomID, "matrix-room", cfg.MatrixRoomID, "Matrix room ID to bridge")
	f.BoolVar(&cfg.MirrorMesh, "mirror-mesh", cfg.MirrorMesh, "post mesh text messages to the Matrix room")

	f.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "SQLite command journal path (disabled when empty)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	f.BoolVar(&cfg.Debug, "debug", cfg.Debug, "shorthand for --log-level debug")

	for _, name := range []string{"gemini-api-key", "matrix-token"} {
		if err := f.MarkHidden(name); err != nil {
			logger.Warn("failed to hide flag", log.String("flag", name), log.Err(err))
		}
	}

	root.AddCommand(newHistoryCommand())

	if err := root.Execute(); err != nil {
		logger.Error("meshrelay", log.Err(err))
		os.Exit(1)
	}
}

// stateLogger logs lifecycle transitions.
type stateLogger struct {
	meshrelay.BaseEventHandler
	logger log.Logger
}

func (s *stateLogger) OnStateChange(e meshrelay.StateChangeEvent) {
	s.logger.Debug("state change",
		log.String("from", e.Previous.String()),
		log.String("to", e.Current.String()),
		log.String("reason", e.Reason))
}

func printBanner(cfg cliconfig.Config, r *meshrelay.Relay) {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	cyan.Fprintln(os.Stderr, "meshrelay "+getVersion())
	line := func(label, value string) {
		green.Fprint(os.Stderr, "  ▶ ")
		fmt.Fprintf(os.Stderr, "%-10s %s\n", label, value)
	}
	if addr := r.Addr(); addr != nil {
		line("Listen:", addr.String())
	}
	line("Gateway:", cfg.ToRelayConfig().UpstreamAddr)
	s := r.Settings()
	line("Trigger:", fmt.Sprintf("%s on channel %d", s.TriggerPrefix, s.BotChannel))
	if cfg.GeminiAPIKey != "" {
		line("AI:", cfg.GeminiModel)
	}
	if cfg.MatrixEnabled() {
		line("Matrix:", cfg.MatrixRoomID)
	}
	if cfg.JournalPath != "" {
		line("Journal:", cfg.JournalPath)
	}
	gray.Fprintln(os.Stderr, "  Ctrl-C to stop")
}
