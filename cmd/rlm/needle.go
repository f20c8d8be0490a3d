package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nevindra/rlm/ingest"
)

const needleQuery = "I'm looking for a magic number. What is it?"

var needleCmd = &cobra.Command{
	Use:   "needle",
	Short: "Generate a needle-in-a-haystack corpus and optionally solve it",
	Long: `Generates lines of random filler words with one line reading
"The magic number is <n>" hidden near the middle. With --run the corpus is
handed to the model and the answer is checked against the hidden number.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, _ := cmd.Flags().GetInt("lines")
		answer, _ := cmd.Flags().GetString("answer")
		seed, _ := cmd.Flags().GetUint64("seed")
		outPath, _ := cmd.Flags().GetString("out")
		run, _ := cmd.Flags().GetBool("run")

		var r *rand.Rand
		if seed != 0 {
			r = rand.New(rand.NewPCG(seed, seed))
		}
		h, err := ingest.GenerateNeedle(r, lines, answer)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "generated %d lines, magic number %s at line %d\n", lines, h.Answer, h.Line)

		if outPath != "" {
			if err := writeHaystack(cmd.OutOrStdout(), outPath, h.Text); err != nil {
				return err
			}
		}
		if !run {
			return nil
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		res, err := a.completer.Completion(cmd.Context(), h.Text, needleQuery)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Result: %s. Expected: %s\n", strings.TrimSpace(res.Answer), h.Answer)
		fmt.Fprintln(cmd.ErrOrStderr(), summary(res, a.Cost(res)))
		if !strings.Contains(res.Answer, h.Answer) {
			return fmt.Errorf("answer does not contain the magic number %s", h.Answer)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(needleCmd)

	needleCmd.Flags().Int("lines", 1_000_000, "Number of haystack lines")
	needleCmd.Flags().String("answer", "", "Magic number to hide (default: random seven digits)")
	needleCmd.Flags().Uint64("seed", 0, "Random seed (0 = random)")
	needleCmd.Flags().StringP("out", "o", "", `Write the haystack to this file ("-" for stdout)`)
	needleCmd.Flags().Bool("run", false, "Ask the model to find the magic number")
}

func writeHaystack(stdout io.Writer, p, text string) error {
	if p == "-" {
		_, err := io.WriteString(stdout, text+"\n")
		return err
	}
	if err := os.WriteFile(p, []byte(text+"\n"), 0o644); err != nil {
		return fmt.Errorf("write haystack: %w", err)
	}
	return nil
}
