package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"datachat/internal/answer"
	"datachat/internal/config"
	"datachat/internal/dataset"
	"datachat/internal/events"
	"datachat/internal/llm"
	"datachat/internal/logging"
	"datachat/internal/pipeline"
	"datachat/internal/planner"
	"datachat/internal/safety"
	"datachat/internal/sandbox"
	"datachat/internal/server"
)

var (
	cfgPath string
	verbose bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "datachat",
	Short: "datachat - ask natural-language questions over tabular datasets",
	Long: `datachat answers questions over JSON datasets by planning a data
transformation with a model, vetting any generated code, executing it in a
bounded sandbox, and synthesizing an answer from the reduced result.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Init(verbose); err != nil {
			return err
		}
		var err error
		cfg, err = config.Load(cfgPath)
		return err
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ask API over HTTP with SSE progress streaming",
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := dataset.LoadDir(cfg.Server.DatasetDir)
		if err != nil {
			return err
		}
		return server.New(cfg, ds).Run()
	},
}

var (
	askDataset string
	askModel   string
	askQuiet   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question against a dataset file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		ds, err := dataset.LoadFile(askDataset)
		if err != nil {
			return err
		}

		ctx := context.Background()
		client, err := llm.NewClient(ctx, cfg.LLM, askModel)
		if err != nil {
			return err
		}

		orch := pipeline.NewOrchestrator(
			planner.NewGenerator(client, cfg.Pipeline),
			safety.NewValidator(client),
			sandbox.NewExecutor(cfg.Sandbox),
			cfg.Pipeline,
			cfg.Reduce,
		)

		var sink events.Sink = consoleSink{}
		if askQuiet {
			sink = events.NopSink{}
		}
		outcome, err := orch.Ask(ctx, question, nil, ds, sink)
		if err != nil {
			return err
		}

		ans, err := answer.NewSynthesizer(client).Synthesize(ctx, question, outcome)
		if err != nil {
			return err
		}

		fmt.Println()
		fmt.Println(ans.Text)
		fmt.Println()
		summary, _ := json.MarshalIndent(ans.Summary, "", "  ")
		fmt.Printf("audit: %s\n", summary)
		return nil
	},
}

// consoleSink prints phase progress for the one-shot CLI.
type consoleSink struct{}

func (consoleSink) Emit(e events.PhaseEvent) {
	fmt.Printf("[%s] attempt %d: %s\n", e.Phase, e.Attempt, e.Status)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "datachat.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	askCmd.Flags().StringVar(&askDataset, "dataset", "", "dataset JSON file (required)")
	askCmd.Flags().StringVar(&askModel, "model", "", "override the configured model")
	askCmd.Flags().BoolVarP(&askQuiet, "quiet", "q", false, "suppress phase progress output")
	_ = askCmd.MarkFlagRequired("dataset")

	rootCmd.AddCommand(serveCmd, askCmd)
}

func main() {
	defer logging.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
