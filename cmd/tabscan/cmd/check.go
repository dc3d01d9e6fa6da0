package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/tabscan/internal/ocr/tesseract"
)

// listLanguages is replaced in tests.
var listLanguages = tesseract.AvailableLanguages

// checkCmd verifies that the OCR engine can serve the configured languages.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the Tesseract installation and language packs",
	Long: `Verify that Tesseract is installed and that every language pack named in
the configuration (or with --languages) is available.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		want := cfg.OCR.Languages
		if cmd.Flags().Changed("languages") {
			want, _ = cmd.Flags().GetStringSlice("languages")
		}

		out := cmd.OutOrStdout()
		installed, err := listLanguages()
		if err != nil {
			return fmt.Errorf("tesseract unavailable: %w", err)
		}
		fmt.Fprintf(out, "Installed language packs: %v\n", installed)

		var missing []string
		for _, l := range want {
			if !slices.Contains(installed, l) {
				missing = append(missing, l)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing language packs: %v", missing)
		}
		fmt.Fprintf(out, "All configured languages available: %v\n", want)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringSliceP("languages", "l", nil, "language packs to check (default from config)")
}
