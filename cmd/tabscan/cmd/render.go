package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/tabscan/internal/raster"
)

// renderCmd writes the rasterized pages of a document as PNG files, which is
// what the recognizer sees.
var renderCmd = &cobra.Command{
	Use:   "render <file.pdf>",
	Short: "Rasterize the pages of a PDF to PNG images",
	Long: `Render every page of a PDF the same way extract does and save the page
images, named <name>-page-NNN.png.

Examples:
  tabscan render register.pdf --output-dir pages
  tabscan render register.pdf --dpi 200 --max-pages 2`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().String("output-dir", ".", "directory for the page images")
	renderCmd.Flags().Int("dpi", 0, "rendering resolution (default from config)")
	renderCmd.Flags().Int("max-pages", 0, "render only the leading pages (0 = all)")
	renderCmd.Flags().Bool("color", false, "keep color instead of converting to grayscale")
	renderCmd.Flags().String("password", "", "password for encrypted documents")
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := getConfig()
	if err != nil {
		return err
	}
	opts := cfg.ToRasterOptions()
	flags := cmd.Flags()
	if flags.Changed("dpi") {
		opts.DPI, _ = flags.GetInt("dpi")
	}
	if flags.Changed("max-pages") {
		opts.MaxPages, _ = flags.GetInt("max-pages")
	}
	if color, _ := flags.GetBool("color"); color {
		opts.Grayscale = false
	}
	if flags.Changed("password") {
		opts.Password, _ = flags.GetString("password")
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	outDir, _ := flags.GetString("output-dir")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	doc, err := raster.NewPDFRasterizer(logger).Open(ctx, args[0], opts)
	if err != nil {
		return err
	}
	defer func() { _ = doc.Close() }()

	base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	for page, err := range doc.Pages(ctx) {
		if err != nil {
			return err
		}
		name := filepath.Join(outDir, fmt.Sprintf("%s-page-%03d.png", base, page.Index+1))
		b := page.Image.Bounds()
		err := imaging.Save(page.Image, name)
		page.Release()
		if err != nil {
			return fmt.Errorf("save page %d: %w", page.Index+1, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%dx%d @ %d dpi)\n", name, b.Dx(), b.Dy(), page.DPI)
	}
	return nil
}
