package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/andresmejia3/trafficvision/internal/analyzer"
	"github.com/andresmejia3/trafficvision/internal/annotate"
	"github.com/andresmejia3/trafficvision/internal/media"
	"github.com/andresmejia3/trafficvision/internal/metrics"
	"github.com/andresmejia3/trafficvision/internal/traffic"
	"github.com/andresmejia3/trafficvision/internal/worker"
	"github.com/spf13/cobra"
)

var analyzeOpts Options

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image_path>",
	Short: "Detect vehicles in a single image and report traffic metrics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		analyzeOpts.InputPath = args[0]
		return runAnalyze(cmd.Context(), analyzeOpts)
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOpts.OutputPath, "output", "o", "", "Annotated image path (default: <input>_annotated.<ext>)")
	analyzeCmd.Flags().Float64VarP(&analyzeOpts.Confidence, "conf", "c", analyzer.DefaultConfidence, "Detection confidence threshold (0.0 - 1.0)")
	analyzeCmd.Flags().Float64Var(&analyzeOpts.IoU, "iou", analyzer.DefaultIoU, "NMS IoU threshold (0.0 - 1.0)")
	analyzeCmd.Flags().StringVar(&analyzeOpts.ModelPath, "model", "", "Model weights (default: TRAFFIC_MODEL_PATH)")
	analyzeCmd.Flags().StringVar(&analyzeOpts.WorkerTimeout, "worker-timeout", "", "Maximum time to wait for the detector per frame (default: TRAFFIC_WORKER_TIMEOUT)")
	analyzeCmd.Flags().BoolVar(&analyzeOpts.JSON, "json", false, "Print the full report as JSON")
	rootCmd.AddCommand(analyzeCmd)
}

// startEngine launches the detector process and wires it into an analyzer.
// The caller owns the returned worker and must close it.
func startEngine(ctx context.Context, opts Options, m *metrics.Metrics) (*analyzer.Analyzer, *worker.PythonWorker, error) {
	timeout, err := workerTimeout(opts.WorkerTimeout)
	if err != nil {
		return nil, nil, err
	}
	model := opts.ModelPath
	if model == "" {
		model = cfg.ModelPath
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting detection engine...")
	w, err := worker.NewPythonWorker(ctx, 0, worker.Config{
		Python:      cfg.Python,
		Script:      cfg.DetectorScript,
		ModelPath:   model,
		ReadTimeout: timeout,
	})
	if err != nil {
		return nil, nil, err
	}

	an := analyzer.New(w, traffic.DefaultPolicy(), annotate.New(annotate.DefaultPalette()), logger, m)
	return an, w, nil
}

func runAnalyze(ctx context.Context, opts Options) error {
	if err := opts.params().Validate(); err != nil {
		return fail("Invalid flags", err, nil)
	}

	frame, format, err := media.LoadImage(opts.InputPath)
	if err != nil {
		return fail("Failed to load image", err, nil)
	}

	an, w, err := startEngine(ctx, opts, nil)
	if err != nil {
		return fail("Failed to start detection engine", err, nil)
	}
	defer w.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing image...")
	report, err := an.Analyze(frame, opts.params())
	if err != nil {
		return fail("Analysis failed", err, w.Cmd)
	}

	out := opts.OutputPath
	if out == "" {
		out = annotatedPath(opts.InputPath, media.Extension(media.OutputFormat(format)))
	}
	outFormat := media.FormatFromPath(out)
	if outFormat == "" {
		outFormat = media.OutputFormat(format)
	}
	if err := media.SaveImage(out, report.Annotated, outFormat); err != nil {
		return fail("Failed to save annotated image", err, nil)
	}
	fmt.Fprintf(os.Stderr, "💾 Annotated image written to %s\n", out)

	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(report)
	return nil
}

// annotatedPath derives "<dir>/<name>_annotated<ext>" from the input path.
func annotatedPath(input, ext string) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + "_annotated" + ext
}

func printReport(r *traffic.FrameReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "METRIC\tVALUE")
	fmt.Fprintln(w, "------\t-----")
	fmt.Fprintf(w, "Bus\t%d\n", r.Counts.Bus)
	fmt.Fprintf(w, "Car\t%d\n", r.Counts.Car)
	fmt.Fprintf(w, "Van\t%d\n", r.Counts.Van)
	fmt.Fprintf(w, "Total\t%d\n", r.Counts.Total)
	if r.Counts.Unknown > 0 {
		fmt.Fprintf(w, "Unrecognized\t%d\n", r.Counts.Unknown)
	}
	fmt.Fprintf(w, "Density\t%.3f (%s)\n", r.Density.Score, r.Density.Label)
	fmt.Fprintf(w, "Large : Small\t%d : %d (ratio %s)\n", r.Ratio.Large, r.Ratio.Small, r.Ratio.Ratio)
	fmt.Fprintf(w, "Composition\t%.1f%% large, %.1f%% small (%s)\n", r.Ratio.PctLarge, r.Ratio.PctSmall, r.Ratio.Kind)
	fmt.Fprintf(w, "Congestion\t%.1f/100 (%s)\n", r.Congestion.Index, r.Congestion.Label)
	fmt.Fprintf(w, "\t%s\n", r.Congestion.Description)
	w.Flush()
}
