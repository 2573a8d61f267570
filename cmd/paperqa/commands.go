package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/paperqa/internal/api"
	"github.com/kalambet/paperqa/internal/config"
	"github.com/kalambet/paperqa/internal/guard"
	"github.com/kalambet/paperqa/internal/jobs"
	"github.com/kalambet/paperqa/internal/poller"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Submit a question and wait for the answer",
	Long: `Submit a question against a corpus and poll until the answer is ready.

Examples:
  paperqa ask --corpus pubmed "What drives insulin resistance in the liver?"
  paperqa ask --corpus pubmed --complexity complex --verify "Role of IL-6 in sepsis"
  paperqa ask --corpus pubmed --no-wait "Statins and dementia risk"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := askRequest(cmd, strings.Join(args, " "))
		if err != nil {
			return err
		}
		noWait, _ := cmd.Flags().GetBool("no-wait")
		asJSON, _ := cmd.Flags().GetBool("json")
		useTUI, _ := cmd.Flags().GetBool("tui")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		sub, err := submitJob(ctx, client, req)
		if err != nil {
			return err
		}
		if noWait {
			fmt.Fprintln(cmd.OutOrStdout(), sub.JobID)
			printStatus("Estimated time", "%ds", sub.EstimatedTime)
			return nil
		}
		printStep("Submitted job %s (estimated %ds)", sub.JobID, sub.EstimatedTime)

		var view api.JobView
		if useTUI {
			view, err = runProgressTUI(ctx, client, sub.JobID)
		} else {
			view, err = waitForJob(ctx, client, sub.JobID, poller.Options{
				OnProgress: func(st poller.Status) {
					printStep("%s (%s)", st.Progress, st.Elapsed)
				},
			})
		}
		if err != nil {
			var failed *poller.JobFailedError
			switch {
			case errors.As(err, &failed):
				return fmt.Errorf("job failed: %s", failed.Message)
			case errors.Is(err, poller.ErrTimeout):
				return fmt.Errorf("gave up waiting for job %s; check later with: paperqa status %s", sub.JobID, sub.JobID)
			}
			return err
		}
		return printJob(cmd.OutOrStdout(), view, asJSON)
	},
}

func init() {
	askCmd.Flags().String("corpus", "", "corpus to search (required)")
	askCmd.Flags().String("complexity", "", "simple, moderate or complex")
	askCmd.Flags().Bool("verify", false, "check the answer against its sources")
	askCmd.Flags().String("style", "", "structured or narrative")
	askCmd.Flags().String("model", "", "completion model override")
	askCmd.Flags().Int("max-chunks-per-paper", 0, "chunks allowed per source paper")
	askCmd.Flags().Int("target-tokens", 0, "context token budget")
	askCmd.Flags().Float64("threshold", 0, "minimum similarity for listed matches")
	askCmd.Flags().Float64("vector-weight", 0, "weight of vector similarity")
	askCmd.Flags().Float64("lexical-weight", 0, "weight of lexical relevance")
	askCmd.Flags().Bool("no-wait", false, "print the job id and return immediately")
	askCmd.Flags().Bool("json", false, "print the finished job as JSON")
	askCmd.Flags().Bool("tui", false, "show live progress in an interactive view")
}

// askRequest builds a submission from flags. Only flags the user set are
// sent so the server applies its defaults to the rest.
func askRequest(cmd *cobra.Command, question string) (guard.Request, error) {
	f := cmd.Flags()
	corpusID, _ := f.GetString("corpus")
	if corpusID == "" {
		return guard.Request{}, fmt.Errorf("--corpus is required")
	}
	req := guard.Request{CorpusID: corpusID, Query: question}
	req.Complexity, _ = f.GetString("complexity")
	req.Verify, _ = f.GetBool("verify")
	req.OutputStyle, _ = f.GetString("style")
	req.Model, _ = f.GetString("model")

	if f.Changed("max-chunks-per-paper") {
		v, _ := f.GetInt("max-chunks-per-paper")
		req.MaxChunksPerPaper = &v
	}
	if f.Changed("target-tokens") {
		v, _ := f.GetInt("target-tokens")
		req.TargetTokens = &v
	}
	if f.Changed("threshold") {
		v, _ := f.GetFloat64("threshold")
		req.Threshold = &v
	}
	if f.Changed("vector-weight") {
		v, _ := f.GetFloat64("vector-weight")
		req.VectorWeight = &v
	}
	if f.Changed("lexical-weight") {
		v, _ := f.GetFloat64("lexical-weight")
		req.LexicalWeight = &v
	}
	return req, nil
}

func submitJob(ctx context.Context, client *apiClient, req guard.Request) (api.SubmitResponse, error) {
	var sub api.SubmitResponse
	resp, err := client.post(ctx, "/v1/jobs", req)
	if err != nil {
		return sub, err
	}
	err = decodeJSON(resp, &sub)
	return sub, err
}

func fetchJob(ctx context.Context, client *apiClient, id string) (api.JobView, error) {
	var view api.JobView
	resp, err := client.get(ctx, "/v1/jobs/"+id)
	if err != nil {
		return view, err
	}
	err = decodeJSON(resp, &view)
	return view, err
}

// waitForJob polls the job until it finishes or the poll budget runs out.
func waitForJob(ctx context.Context, client *apiClient, id string, opts poller.Options) (api.JobView, error) {
	return poller.Poll(ctx, func(ctx context.Context) (api.JobView, poller.Status, error) {
		view, err := fetchJob(ctx, client, id)
		if err != nil {
			return view, poller.Status{}, err
		}
		return view, statusOf(view), nil
	}, opts)
}

func statusOf(v api.JobView) poller.Status {
	return poller.Status{
		Status:   string(v.Status),
		Progress: v.Progress,
		Error:    v.Error,
		Elapsed:  time.Duration(v.ElapsedSeconds) * time.Second,
	}
}

func printJob(w io.Writer, v api.JobView, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	switch v.Status {
	case jobs.StatusFailed:
		printError("Job %s failed after %ds: %s", v.JobID, v.ElapsedSeconds, v.Error)
		return nil
	case jobs.StatusPending, jobs.StatusProcessing:
		printStatus("Job", "%s", v.JobID)
		printStatus("Status", "%s", v.Status)
		printStatus("Progress", "%s", v.Progress)
		printStatus("Elapsed", "%ds", v.ElapsedSeconds)
		return nil
	}

	fmt.Fprintln(w, v.Response)
	fmt.Fprintln(w)
	if len(v.Sources) > 0 {
		fmt.Fprintln(w, colorize(styleBold, "Sources"))
		for _, s := range v.Sources {
			fmt.Fprintln(w, formatSource(s))
		}
	}
	if v.Confidence != nil {
		printStatus("Confidence", "%.0f%%", *v.Confidence)
	}
	printStatus("Elapsed", "%ds", v.ElapsedSeconds)
	if n := len(v.AllMatching); n > 0 {
		printStatus("Matching chunks", "%d", n)
	}
	return nil
}

func formatSource(s jobs.Source) string {
	title := s.Metadata.Title
	if title == "" {
		title = "Untitled"
	}
	year := "n.d."
	if s.Metadata.Year > 0 {
		year = fmt.Sprintf("%d", s.Metadata.Year)
	}
	line := fmt.Sprintf("  [%d] %s (%s)", s.Index, title, year)
	if s.Metadata.DocumentID != "" {
		line += " PMID:" + s.Metadata.DocumentID
	}
	line += fmt.Sprintf(" score %.2f", s.FusedScore)
	if s.CitedInResponse {
		return line + colorize(styleSuccess, " cited")
	}
	return colorize(styleFaint, line)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		view, err := fetchJob(cmd.Context(), client, args[0])
		if err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Type == "expired" {
				return fmt.Errorf("job %s has expired and its result is gone", args[0])
			}
			return err
		}
		return printJob(cmd.OutOrStdout(), view, asJSON)
	},
}

// --- execute ---

var executeCmd = &cobra.Command{
	Use:   "execute <job-id>",
	Short: "Run a pending job to completion and print it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/jobs/"+args[0]+"/execute", nil)
		if err != nil {
			return err
		}
		var view api.JobView
		if err := decodeJSON(resp, &view); err != nil {
			return err
		}
		return printJob(cmd.OutOrStdout(), view, asJSON)
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print the job as JSON")
	executeCmd.Flags().Bool("json", false, "print the job as JSON")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", config.FilePath())
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(styleBold, k.Key), k.Value,
				colorize(styleFaint, fmt.Sprintf("(%s, %s, %s)", k.Type, k.Source, k.EnvVar)))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
