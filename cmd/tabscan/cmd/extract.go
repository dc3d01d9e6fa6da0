package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/tabscan/internal/jobs"
	"github.com/MeKo-Tech/tabscan/internal/model"
	"github.com/MeKo-Tech/tabscan/internal/sink"
)

// extractCmd processes a single document.
var extractCmd = &cobra.Command{
	Use:   "extract <file.pdf>",
	Short: "Extract the table of one scanned PDF into a spreadsheet",
	Long: `Render, recognize and rebuild the table of a single scanned PDF.

The output format follows the extension of --output (.xlsx, .csv or .json).
Without --output the table is written to the current directory as
<name>.<format>. Rows whose cells fall below the confidence floor are marked
for verification in the Status column.

Examples:
  tabscan extract register.pdf
  tabscan extract register.pdf -o register.csv --languages ron,eng
  tabscan extract register.pdf -f json -o - --page-timeout 30s`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	addExtractFlags(extractCmd)
}

func addExtractFlags(c *cobra.Command) {
	c.Flags().StringP("output", "o", "", "output file, or - for JSON on stdout")
	c.Flags().StringP("format", "f", "", "output format when --output is not set (xlsx, csv, json)")
	c.Flags().Bool("manifest", false, "write a YAML page manifest next to the output")
	c.Flags().String("password", "", "password for encrypted documents")
	c.Flags().Int("max-pages", 0, "process only the leading pages (0 = all)")
	addRequestFlags(c)
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := getConfig()
	if err != nil {
		return err
	}
	source := args[0]
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("input: %w", err)
	}

	req, err := requestFromFlags(cmd)
	if err != nil {
		return err
	}
	req.Source = source
	req.Name = filepath.Base(source)

	if cmd.Flags().Changed("password") {
		cfg.Raster.Password, _ = cmd.Flags().GetString("password")
	}
	if cmd.Flags().Changed("max-pages") {
		cfg.Raster.MaxPages, _ = cmd.Flags().GetInt("max-pages")
	}
	writeManifest := cfg.Output.WriteSummary
	if cmd.Flags().Changed("manifest") {
		writeManifest, _ = cmd.Flags().GetBool("manifest")
	}

	dest, format := outputTarget(cmd, source, cfg.Output.Format)
	var extra []jobs.Option
	if format != "json" {
		s, err := sink.ForPath(dest, cfg.ToSinkOptions(), logger)
		if err != nil {
			return err
		}
		extra = append(extra, jobs.WithSink(s))
		req.Output = dest
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := newManager(cfg, logger, extra...)
	defer func() { _ = m.Shutdown(context.Background()) }()

	snap, err := runToCompletion(ctx, m, req)
	if err != nil {
		return err
	}
	res := snap.Result

	if format == "json" && res != nil {
		if err := writeJSONResult(cmd.OutOrStdout(), dest, res); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		snap.Output = dest
	}
	if writeManifest && res != nil && snap.Output != "" && snap.Output != "-" {
		mf := strings.TrimSuffix(snap.Output, filepath.Ext(snap.Output)) + ".manifest.yaml"
		if err := sink.WriteManifest(context.WithoutCancel(ctx), res, mf); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
	}

	if dest != "-" {
		printResult(cmd.OutOrStdout(), snap)
	}
	return resultError(snap)
}

// outputTarget resolves the destination and its format. An explicit output
// path decides the format by extension.
func outputTarget(cmd *cobra.Command, source, defaultFormat string) (string, string) {
	dest, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	switch {
	case dest == "-":
		return dest, "json"
	case dest != "":
		return dest, strings.ToLower(strings.TrimPrefix(filepath.Ext(dest), "."))
	}
	if format == "" {
		format = defaultFormat
	}
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return base + "." + format, format
}

// runToCompletion submits req and waits for a terminal state. An interrupt
// cancels the job and still waits for its final snapshot.
func runToCompletion(ctx context.Context, m *jobs.Manager, req jobs.Request) (jobs.Snapshot, error) {
	id, err := m.Submit(ctx, req)
	if err != nil {
		return jobs.Snapshot{}, err
	}
	snap, err := m.Wait(ctx, id)
	if err == nil {
		return snap, nil
	}
	logger.Warn("extract.interrupted", "job_id", id, "source", req.Source)
	if cerr := m.Cancel(id); cerr != nil {
		logger.Debug("extract.cancel", "job_id", id, "error", cerr)
	}
	return m.Wait(context.Background(), id)
}

func writeJSONResult(stdout io.Writer, dest string, res *model.JobResult) error {
	if dest == "-" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(dest, append(data, '\n'), 0o644)
}

func printResult(w io.Writer, snap jobs.Snapshot) {
	fmt.Fprintf(w, "Document: %s\n", snap.Source)
	fmt.Fprintf(w, "State:    %s\n", snap.State)
	if res := snap.Result; res != nil {
		fmt.Fprintf(w, "Pages:    %d (%d degraded, %d failed)\n", len(res.Manifest.Pages),
			res.Manifest.Count(model.PageDegraded), res.Manifest.Count(model.PageFailed))
		fmt.Fprintf(w, "Table:    %d rows x %d columns\n", len(res.Table.Rows), res.Table.Columns)
		fmt.Fprintf(w, "Duration: %v\n", res.Duration.Round(time.Millisecond))
	}
	if snap.Output != "" {
		fmt.Fprintf(w, "Output:   %s\n", snap.Output)
	}
	if snap.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", snap.Error)
	}
}

// resultError turns a terminal snapshot into the command's exit error.
// Partially completed documents still exit cleanly.
func resultError(snap jobs.Snapshot) error {
	switch snap.State {
	case jobs.StateCompleted, jobs.StatePartiallyCompleted:
		if snap.Error != "" {
			return errors.New(snap.Error)
		}
		return nil
	default:
		return fmt.Errorf("document %s: %s: %s", snap.Source, snap.State, snap.Error)
	}
}
