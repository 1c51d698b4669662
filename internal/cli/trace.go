package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/earshot/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// TraceResult holds the trace output for one event, or the play list when
// no event was requested.
type TraceResult struct {
	Plays       []store.PlayRecord       `json:"plays"`
	Transitions []store.TransitionRecord `json:"transitions,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [event-id]",
		Short: "Show recorded plays and transitions",
		Long: `Query the play log written by "earshot play --db".

Without an event ID, lists the most recent plays. With an event ID,
shows that play and every lifecycle transition it went through, ending
with its removal from the active registry.

Examples:
  earshot trace --db ./earshot.db
  earshot trace --db ./earshot.db --limit 5
  earshot trace --db ./earshot.db 0192f1c4-7d2e-7c4b-9a9e-5c1d2b3a4f60
  earshot trace --db ./earshot.db --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			eventID := ""
			if len(args) == 1 {
				eventID = args[0]
			}
			return runTrace(opts, eventID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "number of recent plays to list (0 for all)")

	return cmd
}

func runTrace(opts *TraceOptions, eventID string, cmd *cobra.Command) error {
	ctx := context.Background()

	// store.Open would create a missing database.
	if _, err := os.Stat(opts.Database); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.Database))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var result TraceResult
	if eventID == "" {
		result.Plays, err = st.ReadPlays(ctx, opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read plays", err)
		}
	} else {
		play, err := st.ReadPlay(ctx, eventID)
		if errors.Is(err, store.ErrNotFound) {
			return NewExitError(ExitCommandError, fmt.Sprintf("no play recorded for event %s", eventID))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read play", err)
		}
		result.Plays = []store.PlayRecord{play}
		result.Transitions, err = st.ReadTransitions(ctx, eventID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read transitions", err)
		}
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result, eventID != "")
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(CLIResponse{
		Status: "ok",
		Data:   result,
	})
}

// outputTraceText outputs the trace result as human-readable text.
func outputTraceText(cmd *cobra.Command, result TraceResult, single bool) error {
	w := cmd.OutOrStdout()

	if len(result.Plays) == 0 {
		fmt.Fprintln(w, "No plays recorded.")
		return nil
	}

	if !single {
		fmt.Fprintf(w, "Plays (%d):\n", len(result.Plays))
		for _, p := range result.Plays {
			writePlay(w, p)
		}
		return nil
	}

	p := result.Plays[0]
	fmt.Fprintf(w, "Event: %s (%s)\n", p.EventID, p.Graph)
	writePlay(w, p)
	if p.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", p.Error)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Transitions:")
	if len(result.Transitions) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, t := range result.Transitions {
		fmt.Fprintf(w, "  [%d] t=%.3f %s → %s\n", t.Seq, t.At, t.From, t.To)
	}
	return nil
}

func writePlay(w io.Writer, p store.PlayRecord) {
	clips := "-"
	if len(p.Clips) > 0 {
		clips = strings.Join(p.Clips, ",")
	}
	fmt.Fprintf(w, "  [%d] t=%.3f %-8s %s %s clips=%s\n", p.Seq, p.At, p.Status, p.Graph, p.EventID, clips)
}

// writeTimeline prints lifecycle notices one per line.
func writeTimeline(w io.Writer, notices []PlayNotice) {
	for _, n := range notices {
		line := fmt.Sprintf("  [%d] t=%.3f %-10s %s", n.Seq, n.At, n.Kind, n.Graph)
		if n.EventID != "" {
			line += " " + n.EventID
		}
		if n.To != "" {
			line += fmt.Sprintf(" %s → %s", n.From, n.To)
		}
		if len(n.Clips) > 0 {
			line += " clips=" + strings.Join(n.Clips, ",")
		}
		if n.Error != "" {
			line += " error=" + n.Error
		}
		fmt.Fprintln(w, line)
	}
}
