package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nevindra/rlm"
	"github.com/nevindra/rlm/ingest"
)

var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Answer a query about a document",
	Long: `Loads the document given by --file (a path or an http(s) URL) or read from
stdin, binds it to ` + "`context`" + ` in a fresh sandbox and runs the loop until the
model gives a final answer. With no query the model follows the instructions
contained in the document.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if n, _ := cmd.Flags().GetInt("max-iterations"); n > 0 {
			cfg.RLM.MaxIterations = n
		}
		file, _ := cmd.Flags().GetString("file")
		jsonOut, _ := cmd.Flags().GetBool("json")
		raw, _ := cmd.Flags().GetBool("raw")

		input, err := loadInput(cmd.Context(), file, cmd.InOrStdin())
		if err != nil {
			return err
		}
		var query string
		if len(args) > 0 {
			query = args[0]
		}

		log := newLogger(cfg)
		a, err := newApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		res, err := a.completer.Completion(cmd.Context(), input, query)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), res, a.Cost(res), jsonOut, raw)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("file", "f", "", "Document path or URL (default: stdin)")
	runCmd.Flags().Int("max-iterations", 0, "Override the round budget")
	runCmd.Flags().Bool("json", false, "Print the result as JSON")
	runCmd.Flags().Bool("raw", false, "Print the answer without Markdown rendering")
}

// loadInput resolves --file into a context value. Without a file the
// document is read from stdin, which must not be a terminal.
func loadInput(ctx context.Context, file string, stdin io.Reader) (any, error) {
	switch {
	case strings.HasPrefix(file, "http://"), strings.HasPrefix(file, "https://"):
		return ingest.Fetch(ctx, nil, file)
	case file != "" && file != "-":
		return ingest.Load(file)
	}
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return nil, errors.New("no document: pass --file or pipe one on stdin")
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

// resultJSON is the --json output of run.
type resultJSON struct {
	SessionID  string    `json:"session_id"`
	Answer     string    `json:"answer"`
	Iterations int       `json:"iterations"`
	Forced     bool      `json:"forced"`
	Usage      rlm.Usage `json:"usage"`
	SubUsage   rlm.Usage `json:"sub_usage"`
	CostUSD    float64   `json:"cost_usd"`
}

// printResult writes the answer to out and a one-line summary to errOut.
func printResult(out, errOut io.Writer, res rlm.Result, cost float64, jsonOut, raw bool) error {
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resultJSON{
			SessionID:  res.SessionID,
			Answer:     res.Answer,
			Iterations: res.Iterations,
			Forced:     res.Forced,
			Usage:      res.Usage,
			SubUsage:   res.SubUsage,
			CostUSD:    cost,
		})
	}
	if _, err := io.WriteString(out, renderAnswer(out, res.Answer, raw)); err != nil {
		return err
	}
	fmt.Fprintln(errOut, summary(res, cost))
	return nil
}

// summary formats rounds, token usage and cost of a result.
func summary(res rlm.Result, cost float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "rounds: %d", res.Iterations)
	if res.Forced {
		b.WriteString(" (forced)")
	}
	fmt.Fprintf(&b, " | root: %d in / %d out in %d calls", res.Usage.InputTokens, res.Usage.OutputTokens, res.Usage.Calls)
	if res.SubUsage.Calls > 0 {
		fmt.Fprintf(&b, " | llm_query: %d in / %d out in %d calls", res.SubUsage.InputTokens, res.SubUsage.OutputTokens, res.SubUsage.Calls)
	}
	if cost > 0 {
		fmt.Fprintf(&b, " | cost: $%.4f", cost)
	}
	if res.SessionID != "" {
		fmt.Fprintf(&b, " | session: %s", res.SessionID)
	}
	return b.String()
}
