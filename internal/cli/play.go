package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/earshot/internal/config"
	"github.com/roach88/earshot/internal/engine"
	"github.com/roach88/earshot/internal/store"
	"github.com/roach88/earshot/internal/telemetry"
	"github.com/roach88/earshot/internal/voice"
)

// PlayOptions holds flags for the play command.
type PlayOptions struct {
	*RootOptions
	Seconds  float64
	DT       float64
	Seed     uint64
	Voices   int
	Language string
	Switches map[string]int    // --switch id=value
	Params   map[string]string // --param name=value, parsed as floats
	Database string
	Realtime bool

	// IDGenerator allows overriding the event ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator engine.IDGenerator
}

// PlayNotice is one lifecycle notice in the play timeline.
type PlayNotice struct {
	Seq     int64    `json:"seq"`
	At      float64  `json:"at"`
	Kind    string   `json:"kind"`
	EventID string   `json:"event_id,omitempty"`
	Graph   string   `json:"graph"`
	From    string   `json:"from,omitempty"`
	To      string   `json:"to,omitempty"`
	Clips   []string `json:"clips,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// PlayResult is the outcome of a simulated play.
type PlayResult struct {
	Event     string       `json:"event"`
	EventID   string       `json:"event_id"`
	Seconds   float64      `json:"seconds"`
	Notices   []PlayNotice `json:"notices"`
	Snapshots []string     `json:"snapshots,omitempty"`
}

// NewPlayCommand creates the play command.
func NewPlayCommand(rootOpts *RootOptions) *cobra.Command {
	return newPlayCommand(&PlayOptions{RootOptions: rootOpts})
}

func newPlayCommand(opts *PlayOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <assets-dir> <event>",
		Short: "Play an event on the simulated device",
		Long: `Compile the event assets in a directory, play one event on the
simulated output device and print its lifecycle timeline.

By default the simulation advances in fixed steps of --dt as fast as
possible. With --realtime the engine driver runs at EARSHOT_TICK_RATE
against the wall clock until --seconds elapse or the process is
interrupted.

Environment variables (EARSHOT_VOICES, EARSHOT_LANGUAGE, EARSHOT_DB, ...)
supply defaults; flags override them.

Examples:
  earshot play ./assets Steps
  earshot play ./assets Surface --switch surface=1 --param intensity=0.5
  earshot play ./assets Greeting --lang fr --db ./earshot.db
  earshot play ./assets Music --realtime --seconds 10`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().Float64Var(&opts.Seconds, "seconds", 5, "simulated seconds to run after the play")
	cmd.Flags().Float64Var(&opts.DT, "dt", 0.125, "tick length in seconds (ignored with --realtime)")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "random seed (default: random)")
	cmd.Flags().IntVar(&opts.Voices, "voices", 0, "voice pool capacity (default: EARSHOT_VOICES)")
	cmd.Flags().StringVar(&opts.Language, "lang", "", "language tag (default: EARSHOT_LANGUAGE)")
	cmd.Flags().StringToIntVar(&opts.Switches, "switch", nil, "set switches, id=value (repeatable)")
	cmd.Flags().StringToStringVar(&opts.Params, "param", nil, "set global parameters, name=value (repeatable)")
	cmd.SetFlagErrorFunc(flagError)
	cmd.Flags().StringVar(&opts.Database, "db", "", "record plays to this SQLite database (default: EARSHOT_DB)")
	cmd.Flags().BoolVar(&opts.Realtime, "realtime", false, "drive the engine against the wall clock")

	return cmd
}

func runPlay(opts *PlayOptions, assetsDir, eventName string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	applyPlayFlags(opts, cmd, &cfg)

	if opts.Seconds < 0 {
		return NewExitError(ExitCommandError, "--seconds must not be negative")
	}
	if !opts.Realtime && opts.DT <= 0 {
		return NewExitError(ExitCommandError, "--dt must be positive")
	}
	params, err := parseParams(opts.Params)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --param", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	shutdown, err := telemetry.Setup(parentCtx, "earshot", cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("error flushing traces", "error", err)
		}
	}()

	logger.Debug("loading assets", "dir", assetsDir)
	loadResult, loadErrors := LoadEvents(assetsDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return WrapExitError(ExitCommandError, "failed to load assets", loadErrors[0])
	}
	g := loadResult.Event(eventName)
	if g == nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: unknown event %q", ErrCodeUnknownEvent, eventName))
	}

	result := PlayResult{Event: eventName, Seconds: opts.Seconds, Notices: []PlayNotice{}}
	mixer := &snapshotLog{}
	engineOpts := []engine.EngineOption{
		engine.WithCapacity(cfg.Voices),
		engine.WithHistorySize(cfg.History),
		engine.WithDefaultRemovalDelay(cfg.RemovalDelay),
		engine.WithLogger(logger),
		engine.WithMixer(mixer),
		engine.WithObserver(engine.ObserverFunc(func(n engine.Notice) {
			result.Notices = append(result.Notices, playNotice(n))
		})),
	}
	if cmd.Flags().Changed("seed") {
		engineOpts = append(engineOpts, engine.WithSeed(opts.Seed))
	}
	if opts.IDGenerator != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(opts.IDGenerator))
	}

	if cfg.DB != "" {
		logger.Info("opening database", "path", cfg.DB)
		st, err := store.Open(cfg.DB)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		engineOpts = append(engineOpts, engine.WithRecorder(st))
	}

	eng := engine.New(voice.NewSimDevice(), engineOpts...)
	if err := eng.SetLanguage(cfg.Language); err != nil {
		return WrapExitError(ExitCommandError, "invalid language", err)
	}
	for id, v := range opts.Switches {
		eng.SetSwitch(id, v)
	}
	for name, v := range params {
		eng.SetParameter(name, v)
	}

	ev, playErr := eng.Play(parentCtx, g)
	if playErr == nil {
		result.EventID = ev.ID()
		if opts.Realtime {
			err = runRealtime(parentCtx, eng, opts.Seconds, cfg.TickRate, logger)
		} else {
			runSimulated(eng, opts.Seconds, opts.DT)
		}
	}
	eng.Close()
	result.Snapshots = mixer.transitions

	if err != nil {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	if playErr != nil {
		return outputPlayError(opts, cmd, result, playErr)
	}
	return outputPlay(opts, cmd, result)
}

// snapshotLog records snapshot transitions for the timeline.
type snapshotLog struct {
	transitions []string
}

func (l *snapshotLog) TransitionTo(snapshot string, seconds float64) {
	l.transitions = append(l.transitions, fmt.Sprintf("%s@%g", snapshot, seconds))
}

// applyPlayFlags overrides environment configuration with explicitly set
// flags.
func applyPlayFlags(opts *PlayOptions, cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("voices") {
		cfg.Voices = opts.Voices
	}
	if opts.Language != "" {
		cfg.Language = opts.Language
	}
	if opts.Database != "" {
		cfg.DB = opts.Database
	}
}

func runSimulated(eng *engine.Engine, seconds, dt float64) {
	ticks := int(math.Ceil(seconds/dt - 1e-9))
	for range ticks {
		eng.Tick(dt)
	}
}

// runRealtime drives the engine at rate until seconds elapse or the process
// receives an interrupt.
func runRealtime(parent context.Context, eng *engine.Engine, seconds float64, rate time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(parent, time.Duration(seconds*float64(time.Second)))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	err := eng.Run(ctx, rate)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	logger.Info("engine stopped gracefully")
	return nil
}

// parseParams converts --param values to floats.
func parseParams(raw map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	for name, s := range raw {
		if name == "" {
			return nil, fmt.Errorf("%q: parameter name is required", "="+s)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func playNotice(n engine.Notice) PlayNotice {
	pn := PlayNotice{
		Seq:     n.Seq,
		At:      n.At,
		Kind:    string(n.Kind),
		EventID: n.EventID,
		Graph:   n.Graph,
		Clips:   n.Clips,
	}
	switch n.Kind {
	case engine.NoticePlayed, engine.NoticeFailed, engine.NoticeTransition:
		pn.From = n.From.String()
		pn.To = n.To.String()
	}
	if n.Err != nil {
		pn.Error = n.Err.Error()
	}
	return pn
}

func outputPlay(opts *PlayOptions, cmd *cobra.Command, result PlayResult) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "▶ %s (%s)\n", result.Event, result.EventID)
	writeTimeline(w, result.Notices)
	for _, s := range result.Snapshots {
		fmt.Fprintf(w, "  snapshot %s\n", s)
	}
	return nil
}

func outputPlayError(opts *PlayOptions, cmd *cobra.Command, result PlayResult, playErr error) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	code := engine.ErrorCode(playErr)
	if code == "" {
		code = ErrCodePlayFailed
	}
	_ = formatter.Error(code, playErr.Error(), result)
	return WrapExitError(ExitFailure, "play failed", playErr)
}
