package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Evjaj/purescan-sub000/internal/ai"
	"github.com/Evjaj/purescan-sub000/internal/config"
	"github.com/Evjaj/purescan-sub000/internal/datasource"
	"github.com/Evjaj/purescan-sub000/internal/engine"
	"github.com/Evjaj/purescan-sub000/internal/patterns"
	"github.com/Evjaj/purescan-sub000/internal/remote"
	"github.com/Evjaj/purescan-sub000/internal/report"
	"github.com/Evjaj/purescan-sub000/internal/store"
	"github.com/Evjaj/purescan-sub000/pkg/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorRed    = "\033[31m"
	colorYellow = "\033[38;5;220m"
	colorGreen  = "\033[32m"
	colorGray   = "\033[38;5;245m"
	colorCyan   = "\033[36m"
)

var (
	version = "0.0.1"
	logger  *zap.Logger
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "purescan",
		Short: "PureScan - Resumable Malware Scanner for Web Sites",
		Long: `Resumable, chunked malware scanner for web site file trees and database
content. Each tick performs one bounded slice of work and persists its
cursor, so a scan survives process restarts and strict execution limits.`,
		Version: version,
		Run: func(cmd *cobra.Command, args []string) {
			printMainBanner()
			cmd.Help()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(tickCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(scanFileCmd())
	rootCmd.AddCommand(scanTextCmd())
	rootCmd.AddCommand(patternsCmd())
	rootCmd.AddCommand(reportCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// printMainBanner prints the main banner
func printMainBanner() {
	fmt.Println()
	fmt.Printf("%s%sPureScan%s %sv%s%s\n", colorBold, colorCyan, colorReset, colorGray, version, colorReset)
	fmt.Printf("%sResumable malware scanner for web sites%s\n", colorGray, colorReset)
	fmt.Println()
}

// initLogger builds the process logger from the verbose flag.
func initLogger() error {
	var err error
	if verbose {
		logger, err = zap.NewDevelopment()
		return err
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapcore.ErrorLevel),
		Encoding:         "json",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    zap.NewProductionEncoderConfig(),
	}
	logger, err = cfg.Build()
	return err
}

// buildEngine wires the engine from environment-driven configuration.
// The returned cleanup closes the store and database.
func buildEngine() (*engine.Engine, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	var st store.Store
	if cfg.StorePath != "" {
		st, err = store.Open(cfg.StorePath)
	} else {
		st, err = store.OpenMemory()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	var src datasource.Source
	var db *datasource.DB
	if cfg.DatabaseDSN != "" {
		db, err = datasource.Open(cfg.DatabaseDSN, cfg.TablePrefix)
		if err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		src = db
	}

	var verdict ai.VerdictClient
	if cfg.AI.Enabled && cfg.AI.APIToken != "" {
		client, aerr := ai.NewClient(cfg.AI.Model, cfg.AI.APIToken, cfg.AI.Timeout)
		if aerr != nil {
			logger.Warn("AI client unavailable, continuing without verdicts", zap.Error(aerr))
		} else {
			verdict = client
		}
	}

	var rc *remote.Client
	if cfg.PatternsURL != "" {
		rc = remote.NewClient(cfg, logger)
	}

	eng, err := engine.New(engine.Options{
		Config:  cfg,
		Store:   st,
		Logger:  logger,
		Remote:  rc,
		Source:  src,
		Verdict: verdict,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	cleanup := func() {
		st.Close()
	}
	return eng, cleanup, nil
}

// startCmd creates the start command
func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start a new background scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initLogger(); err != nil {
				return err
			}
			defer logger.Sync()

			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.StartScan(); err != nil {
				return err
			}
			fmt.Printf("%s✓ Scan started%s (run 'purescan tick' repeatedly to advance it)\n", colorGreen, colorReset)
			return nil
		},
	}
}

// tickCmd creates the tick command
func tickCmd() *cobra.Command {
	var loop bool

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Execute one bounded slice of the running scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initLogger(); err != nil {
				return err
			}
			defer logger.Sync()

			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			for {
				if err := eng.Execute(ctx); err != nil {
					return err
				}
				snap, perr := eng.Progress()
				if perr != nil {
					return perr
				}
				printProgressLine(snap)
				if !loop || snap.Status != models.StatusRunning {
					return nil
				}
			}
		},
	}

	cmd.Flags().BoolVar(&loop, "loop", false, "Keep ticking until the scan leaves the running state")
	return cmd
}

// cancelCmd creates the cancel command
func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Request cancellation of the running scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initLogger(); err != nil {
				return err
			}
			defer logger.Sync()

			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.CancelScan(); err != nil {
				return err
			}
			fmt.Printf("%s✓ Cancellation requested%s\n", colorYellow, colorReset)
			return nil
		},
	}
}

// statusCmd creates the status command
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show progress of the current scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initLogger(); err != nil {
				return err
			}
			defer logger.Sync()

			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			snap, err := eng.Progress()
			if err != nil {
				return err
			}
			printSnapshot(snap)
			return nil
		},
	}
}

// reportCmd creates the report command
func reportCmd() *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the latest scan results as a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initLogger(); err != nil {
				return err
			}
			defer logger.Sync()

			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}

			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			snap, err := eng.Progress()
			if err != nil {
				return err
			}
			if snap.Status == models.StatusIdle {
				return fmt.Errorf("no scan results to report")
			}

			gen := report.NewGenerator(logger)
			if err := gen.Generate(snap, f, output); err != nil {
				return err
			}
			if output != "" {
				fmt.Printf("%sReport written to %s%s\n", colorGreen, output, colorReset)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Report format: json, text, markdown, html")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

// scanFileCmd creates the scan-file command
func scanFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan-file [path]",
		Short: "Scan a single file on demand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initLogger(); err != nil {
				return err
			}
			defer logger.Sync()

			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			finding, err := eng.ScanSingleFile(context.Background(), args[0])
			if err != nil {
				return err
			}
			if finding == nil {
				fmt.Printf("%s✓ Clean:%s %s\n", colorGreen, colorReset, args[0])
				return nil
			}
			printFinding(finding)
			return nil
		},
	}
}

// scanTextCmd creates the scan-text command
func scanTextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan-text",
		Short: "Scan text from stdin without AI analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initLogger(); err != nil {
				return err
			}
			defer logger.Sync()

			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}

			detections, err := eng.ScanContent(context.Background(), string(data))
			if err != nil {
				return err
			}
			if len(detections) == 0 {
				fmt.Printf("%s✓ No suspicious content%s\n", colorGreen, colorReset)
				return nil
			}
			for _, d := range detections {
				printDetection(d)
			}
			return nil
		},
	}
}

// patternsCmd creates the patterns command
func patternsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "Show the active pattern catalog and its source tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initLogger(); err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			var st store.Store
			if cfg.StorePath != "" {
				st, err = store.Open(cfg.StorePath)
			} else {
				st, err = store.OpenMemory()
			}
			if err != nil {
				return err
			}
			defer st.Close()

			var rc patterns.RemoteSource
			if cfg.PatternsURL != "" {
				rc = remote.NewClient(cfg, logger)
			}

			loader := patterns.NewLoader(cfg, st, rc, logger)
			cat, err := loader.Load(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("\n  Source: %s%s%s\n", colorCyan, cat.Source, colorReset)
			fmt.Printf("  Rules:  %d\n\n", len(cat.Rules))
			for _, r := range cat.Rules {
				fmt.Printf("  %s[%3d]%s %-40s %s%s%s\n",
					colorYellow, r.Score, colorReset, r.Note, colorGray, r.Regex, colorReset)
			}
			fmt.Println()
			return nil
		},
	}
}

// printProgressLine prints one compact tick progress line.
func printProgressLine(s *models.Snapshot) {
	fmt.Printf("  %s%-10s%s phase=%s progress=%d%% scanned=%d suspicious=%d errors=%d\n",
		statusColor(s.Status), s.Status, colorReset, s.Phase, s.Progress, s.Scanned, s.Suspicious, s.Errors)
}

// printSnapshot prints the full status view.
func printSnapshot(s *models.Snapshot) {
	fmt.Println()
	fmt.Printf("  Scan:     %s\n", s.ID)
	fmt.Printf("  Status:   %s%s%s\n", statusColor(s.Status), s.Status, colorReset)
	fmt.Printf("  Phase:    %s\n", s.Phase)
	fmt.Printf("  Progress: %d%%\n", s.Progress)
	fmt.Printf("  Scanned:  %d   Suspicious: %d   Errors: %d\n", s.Scanned, s.Suspicious, s.Errors)
	if s.Message != "" {
		fmt.Printf("  %s%s%s\n", colorGray, s.Message, colorReset)
	}
	fmt.Println()

	for _, phase := range models.PhaseOrder() {
		status, ok := s.StepStatus[phase]
		if !ok {
			continue
		}
		count := s.StepCounts[phase]
		fmt.Printf("  %s %-18s checked=%d found=%d\n",
			stepMark(status), phase, count.Checked, count.Found)
	}

	if len(s.Findings) > 0 {
		fmt.Println()
		fmt.Printf("  %s%d findings:%s\n\n", colorBold, len(s.Findings), colorReset)
		for _, f := range s.Findings {
			printFinding(f)
		}
	}
}

// printFinding prints one finding with its detections.
func printFinding(f *models.Finding) {
	tag := ""
	switch {
	case f.IsCoreModified:
		tag = " [core]"
	case f.IsPluginModified:
		tag = " [plugin]"
	case f.IsDatabase:
		tag = " [database]"
	case f.IsExternal:
		tag = " [external]"
	}
	fmt.Printf("  %s%s%s%s\n", colorRed, f.Path, tag, colorReset)
	for _, d := range f.Snippets {
		printDetection(d)
	}
	fmt.Println()
}

// printDetection prints one detection block.
func printDetection(d *models.Detection) {
	fmt.Printf("    line %d  score %d  %s%s%s\n",
		d.OriginalLine, d.Score, confColor(d.Confidence), d.Confidence, colorReset)
	if len(d.Patterns) > 0 {
		fmt.Printf("    %s%s%s\n", colorGray, strings.Join(d.Patterns, "; "), colorReset)
	}
	if d.ContextCode != "" {
		for _, line := range strings.Split(d.ContextCode, "\n") {
			fmt.Printf("      %s\n", line)
		}
	}
	if d.AIAnalysis != "" {
		fmt.Printf("    %sAI: %s%s\n", colorCyan, d.AIAnalysis, colorReset)
	}
}

func statusColor(s models.Status) string {
	switch s {
	case models.StatusCompleted:
		return colorGreen
	case models.StatusCancelled:
		return colorRed
	default:
		return colorYellow
	}
}

func stepMark(s models.StepStatus) string {
	switch s {
	case models.StepSuccess:
		return colorGreen + "✓" + colorReset
	case models.StepWarning:
		return colorYellow + "!" + colorReset
	default:
		return colorRed + "✗" + colorReset
	}
}

func confColor(c models.Confidence) string {
	switch c {
	case models.ConfidenceHigh, models.ConfidenceVeryHigh:
		return colorRed
	case models.ConfidenceMedium:
		return colorYellow
	default:
		return colorGray
	}
}
