package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avsafe-data/avsafe.report/internal/integrity"
	"github.com/avsafe-data/avsafe.report/internal/report"
	"github.com/avsafe-data/avsafe.report/internal/rules"
)

var (
	reportOut      string
	reportSpectrum string
	reportProfile  string
	reportLocale   string
	reportTitle    string
	reportStrict   bool
)

var reportCmd = &cobra.Command{
	Use:   "report [records.jsonl]",
	Short: "Render an HTML report for a record file",
	Long: `Renders a self-contained HTML report: chain and signature status,
rule flags, the LAeq timeline with the locale's night limit, and the
flicker operating points against the IEEE 1789 risk curve.

--spectrum additionally writes the mean 1/3-octave spectrum as a PNG.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "report.html", "HTML output file (- for stdout)")
	reportCmd.Flags().StringVar(&reportSpectrum, "spectrum", "", "Also write the mean spectrum PNG to this path")
	reportCmd.Flags().StringVar(&reportProfile, "profile", "", "Profile YAML path (default: embedded profile)")
	reportCmd.Flags().StringVar(&reportLocale, "locale", "", "Locale key within the profile")
	reportCmd.Flags().StringVar(&reportTitle, "title", "", "Report title")
	reportCmd.Flags().BoolVar(&reportStrict, "strict", false, "Reject demo-scheme signatures in the status header")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if reportProfile == "" {
		reportProfile = cfg.ProfilePath
	}
	if reportLocale == "" {
		reportLocale = cfg.Locale
	}

	path := "-"
	if len(args) == 1 {
		path = args[0]
	}
	records, err := readRecordsFile(path)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("%s: no records", path)
	}

	profile, err := loadProfile(reportProfile)
	if err != nil {
		return err
	}
	evaluation, err := rules.Evaluate(toPayloads(records), profile, reportLocale)
	if err != nil {
		return err
	}
	verification := integrity.Verify(cmd.Context(), records, integrity.VerifyOptions{Strict: reportStrict})

	in := report.Input{
		Title:        reportTitle,
		DeviceID:     records[0].DeviceID,
		Locale:       reportLocale,
		Records:      records,
		Evaluation:   evaluation,
		Verification: &verification,
		Profile:      profile,
	}

	w, closer, err := openOutput(reportOut)
	if err != nil {
		return err
	}
	defer closer.Close()
	if err := report.RenderHTML(w, in); err != nil {
		return err
	}
	if reportSpectrum != "" {
		if err := report.WriteSpectrumPNG(reportSpectrum, records); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "report for %d records written to %s\n", len(records), reportOut)
	return nil
}
