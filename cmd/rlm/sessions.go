package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nevindra/rlm"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect recorded session traces",
	Long:  `List, inspect and remove sessions recorded by the configured trace store.`,
}

var sessionsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recent sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withStore(cmd, func(ctx context.Context, store rlm.TraceStore) error {
			sessions, err := store.ListSessions(ctx, limit)
			if err != nil {
				return err
			}
			return listSessions(cmd.OutOrStdout(), sessions)
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the rounds of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		return withStore(cmd, func(ctx context.Context, store rlm.TraceStore) error {
			sess, err := store.Session(ctx, args[0])
			if err != nil {
				return err
			}
			its, err := store.Iterations(ctx, sess.ID)
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					rlm.Session
					Rounds []rlm.Iteration `json:"rounds"`
				}{sess, its})
			}
			showSession(cmd.OutOrStdout(), sess, its)
			return nil
		})
	},
}

var sessionsRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store rlm.TraceStore) error {
			d, ok := store.(interface {
				DeleteSession(ctx context.Context, id string) error
			})
			if !ok {
				return errors.New("store does not support deletion")
			}
			var errs []error
			for _, id := range args {
				if err := d.DeleteSession(ctx, id); err != nil {
					errs = append(errs, fmt.Errorf("remove %s: %w", id, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed session '%s'\n", id)
			}
			return errors.Join(errs...)
		})
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsLsCmd, sessionsShowCmd, sessionsRmCmd)

	sessionsLsCmd.Flags().Int("limit", 20, "Maximum number of sessions")
	sessionsShowCmd.Flags().Bool("json", false, "Print the trace as JSON")
}

// withStore opens the configured trace store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(context.Context, rlm.TraceStore) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg.Store, newLogger(cfg))
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("no trace store configured: set [store] driver")
	}
	defer store.Close()
	return fn(cmd.Context(), store)
}

func listSessions(w io.Writer, sessions []rlm.Session) error {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tROUNDS\tSTATUS\tQUERY")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			s.ID, formatUnix(s.StartedAt), s.Iterations, sessionStatus(s), excerpt(s.Query, 60))
	}
	return tw.Flush()
}

func showSession(w io.Writer, s rlm.Session, its []rlm.Iteration) {
	fmt.Fprintf(w, "Session %s (%s)\n", s.ID, sessionStatus(s))
	fmt.Fprintf(w, "Query:   %s\n", s.Query)
	fmt.Fprintf(w, "Context: %s, %d bytes\n", s.ContextKind, s.ContextSize)
	fmt.Fprintf(w, "Started: %s\n", formatUnix(s.StartedAt))
	if s.FinishedAt > 0 {
		fmt.Fprintf(w, "Took:    %s\n", time.Duration(s.FinishedAt-s.StartedAt)*time.Second)
	}
	for _, it := range its {
		fmt.Fprintf(w, "\n--- round %d (%d messages, %s) ---\n", it.Round, it.Messages, it.Duration.Round(time.Millisecond))
		fmt.Fprintln(w, excerpt(it.Response, 800))
		for i, ex := range it.Executions {
			fmt.Fprintf(w, "\n[block %d, %s]\n%s\n=> %s\n", i+1, ex.Elapsed.Round(time.Millisecond), ex.Code, excerpt(ex.Result, 400))
		}
		if it.FinalError != "" {
			fmt.Fprintf(w, "\nfinal answer rejected: %s\n", it.FinalError)
		}
	}
	if s.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", s.Error)
	}
	if s.Answer != "" {
		fmt.Fprintf(w, "\nAnswer: %s\n", s.Answer)
	}
}

func sessionStatus(s rlm.Session) string {
	switch {
	case s.Error != "":
		return "error"
	case s.FinishedAt == 0:
		return "running"
	case s.Forced:
		return "forced"
	default:
		return "done"
	}
}

func formatUnix(sec int64) string {
	if sec == 0 {
		return "-"
	}
	return time.Unix(sec, 0).Local().Format(time.DateTime)
}

// excerpt returns s on one line, cut to max runes.
func excerpt(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
