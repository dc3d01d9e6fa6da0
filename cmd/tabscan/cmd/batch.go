package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/tabscan/internal/batch"
	"github.com/MeKo-Tech/tabscan/internal/config"
	"github.com/MeKo-Tech/tabscan/internal/jobs"
)

// batchCmd processes every PDF found under the given paths.
var batchCmd = &cobra.Command{
	Use:   "batch [paths...]",
	Short: "Extract tables from many scanned PDFs",
	Long: `Process PDF files and directories in parallel. Each document gets its own
workbook in the output directory, or all tables go into one combined workbook
with a Source column.

Progress is checkpointed in the output directory so that an interrupted run
resumes where it stopped. Failures are collected in errors.json and errors.csv.

Examples:
  tabscan batch scans/
  tabscan batch scans/ archive/1920.pdf --output-dir out --format csv
  tabscan batch scans/ --combined --workers 4
  tabscan batch scans/ --reset`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	addBatchFlags(batchCmd)
}

func addBatchFlags(c *cobra.Command) {
	c.Flags().String("output-dir", "", "directory for workbooks, checkpoint and error report (default from config)")
	c.Flags().StringP("format", "f", "", "workbook format (xlsx, csv)")
	c.Flags().Bool("combined", false, "write all tables into one workbook")
	c.Flags().Bool("manifest", false, "write a YAML page manifest next to each workbook")
	c.Flags().BoolP("recursive", "r", true, "descend into subdirectories")
	c.Flags().StringSlice("include", nil, "file name patterns to include (default *.pdf)")
	c.Flags().StringSlice("exclude", nil, "file name patterns to exclude")
	c.Flags().IntP("workers", "w", 0, "documents processed in parallel (default: max concurrent jobs)")
	c.Flags().Bool("resume", true, "skip documents recorded in the checkpoint")
	c.Flags().Bool("reset", false, "remove the checkpoint and error report before starting")
	c.Flags().Bool("continue-on-error", true, "keep going after a document fails")
	c.Flags().BoolP("quiet", "q", false, "no progress bar or summary")
	c.Flags().String("summary-format", "text", "summary format (text, json)")
	addRequestFlags(c)
}

// configToBatchConfig maps the loaded configuration to batch.Config. Flags
// override the configuration only when set on the command line.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) (batch.Config, error) {
	bc := batch.DefaultConfig()
	bc.OutputDir = cfg.Batch.OutputDir
	bc.Format = cfg.Output.Format
	bc.Combined = cfg.Batch.Combined
	bc.WriteManifest = cfg.Output.WriteSummary
	bc.Sink = cfg.ToSinkOptions()
	bc.Recursive = cfg.Batch.Recursive
	bc.Checkpoint = cfg.Batch.Checkpoint
	bc.ContinueOnError = cfg.Batch.ContinueOnError
	bc.Workers = cfg.Jobs.MaxConcurrentJobs

	flags := cmd.Flags()
	if flags.Changed("output-dir") {
		bc.OutputDir, _ = flags.GetString("output-dir")
	}
	if flags.Changed("format") {
		bc.Format, _ = flags.GetString("format")
	}
	if flags.Changed("combined") {
		bc.Combined, _ = flags.GetBool("combined")
	}
	if flags.Changed("manifest") {
		bc.WriteManifest, _ = flags.GetBool("manifest")
	}
	if flags.Changed("recursive") {
		bc.Recursive, _ = flags.GetBool("recursive")
	}
	if flags.Changed("include") {
		bc.IncludePatterns, _ = flags.GetStringSlice("include")
	}
	if flags.Changed("exclude") {
		bc.ExcludePatterns, _ = flags.GetStringSlice("exclude")
	}
	if flags.Changed("workers") {
		bc.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("continue-on-error") {
		bc.ContinueOnError, _ = flags.GetBool("continue-on-error")
	}
	bc.Resume, _ = flags.GetBool("resume")
	bc.Quiet, _ = flags.GetBool("quiet")
	bc.ShowProgress = !bc.Quiet

	req, err := requestFromFlags(cmd)
	if err != nil {
		return bc, err
	}
	bc.Request = req
	return bc, bc.Validate()
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := getConfig()
	if err != nil {
		return err
	}
	bc, err := configToBatchConfig(cfg, cmd)
	if err != nil {
		return err
	}
	summaryFormat, _ := cmd.Flags().GetString("summary-format")
	if summaryFormat != "text" && summaryFormat != "json" {
		return fmt.Errorf("unsupported summary format %q", summaryFormat)
	}

	if reset, _ := cmd.Flags().GetBool("reset"); reset {
		if err := batch.Reset(bc.OutputDir, bc.Checkpoint); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		logger.Info("batch.reset", "output_dir", bc.OutputDir)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Every batch worker needs a job slot, so the pool matches the batch width.
	m := newManager(cfg, logger, jobs.WithWorkers(bc.Workers))
	defer func() { _ = m.Shutdown(context.Background()) }()

	p, err := batch.New(m, bc, logger)
	if err != nil {
		return err
	}
	switch {
	case bc.ShowProgress:
		p.WithProgress(batch.NewConsoleProgress(cmd.ErrOrStderr(), bc.ProgressInterval))
	default:
		p.WithProgress(batch.NewLogProgress(logger))
	}

	summary, err := p.Process(ctx, args)
	if summary != nil {
		if summaryFormat == "json" {
			out, ferr := batch.FormatSummary(summary, "json")
			if ferr != nil {
				return ferr
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
		} else {
			batch.PrintSummary(cmd.OutOrStdout(), summary, bc.Quiet)
		}
	}
	if errors.Is(err, batch.ErrNoDocuments) {
		return fmt.Errorf("no PDF documents found in %v", args)
	}
	if err != nil {
		return err
	}
	if summary.Stopped {
		return errors.New("batch interrupted; rerun to resume")
	}
	return nil
}
