package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/trafficvision/internal/analyzer"
	"github.com/andresmejia3/trafficvision/internal/errs"
	"github.com/andresmejia3/trafficvision/internal/export"
	"github.com/andresmejia3/trafficvision/internal/media"
	"github.com/andresmejia3/trafficvision/internal/metrics"
	"github.com/andresmejia3/trafficvision/internal/pipeline"
	"github.com/andresmejia3/trafficvision/internal/store"
	"github.com/andresmejia3/trafficvision/internal/traffic"
	"github.com/andresmejia3/trafficvision/internal/utils"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var scanOpts Options

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Annotate a traffic video and record its congestion time series",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if !cmd.Flags().Changed("sample-every") {
			scanOpts.SampleEvery = cfg.SampleEvery
		}
		if !cmd.Flags().Changed("kafka-brokers") {
			scanOpts.KafkaBrokers = cfg.KafkaBrokers
		}
		if !cmd.Flags().Changed("kafka-topic") {
			scanOpts.KafkaTopic = cfg.KafkaTopic
		}
		if !cmd.Flags().Changed("metrics-addr") {
			scanOpts.MetricsAddr = cfg.MetricsAddr
		}
		return runScan(cmd.Context(), scanOpts)
	},
}

func init() {
	scanCmd.Flags().StringVarP(&scanOpts.InputPath, "input", "i", "", "Path to video")
	scanCmd.Flags().StringVarP(&scanOpts.OutputPath, "output", "o", "", "Annotated video path (default: <input>_annotated.mp4)")
	scanCmd.Flags().StringVar(&scanOpts.CSVPath, "csv", "", "Write the per-frame time series to this CSV file")
	scanCmd.Flags().Float64VarP(&scanOpts.Confidence, "conf", "c", analyzer.DefaultConfidence, "Detection confidence threshold (0.0 - 1.0)")
	scanCmd.Flags().Float64Var(&scanOpts.IoU, "iou", analyzer.DefaultIoU, "NMS IoU threshold (0.0 - 1.0)")
	scanCmd.Flags().IntVarP(&scanOpts.SampleEvery, "sample-every", "n", 3, "Run detection on every Nth frame and carry the overlay in between (default: TRAFFIC_SAMPLE_EVERY or 3)")
	scanCmd.Flags().IntVarP(&scanOpts.MaxFrames, "max-frames", "m", 0, "Stop after this many frames (0 = whole video)")
	scanCmd.Flags().StringVar(&scanOpts.ModelPath, "model", "", "Model weights (default: TRAFFIC_MODEL_PATH)")
	scanCmd.Flags().StringVar(&scanOpts.WorkerTimeout, "worker-timeout", "", "Maximum time to wait for the detector per frame (default: TRAFFIC_WORKER_TIMEOUT)")
	scanCmd.Flags().BoolVarP(&scanOpts.Persist, "persist", "p", false, "Store the run and its time series in PostgreSQL")
	scanCmd.Flags().StringVar(&scanOpts.RunName, "name", "", "Display name for the stored run")
	scanCmd.Flags().StringSliceVar(&scanOpts.KafkaBrokers, "kafka-brokers", nil, "Publish the time series to these Kafka brokers (default: KAFKA_BROKERS)")
	scanCmd.Flags().StringVar(&scanOpts.KafkaTopic, "kafka-topic", "traffic.frames", "Kafka topic for published records (default: KAFKA_TOPIC)")
	scanCmd.Flags().StringVar(&scanOpts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while scanning, e.g. :9090")

	scanCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(scanCmd)
}

// runScan orchestrates a video run: engine startup, the frame pipeline,
// progress tracking, then the CSV, database and Kafka outputs.
func runScan(ctx context.Context, opts Options) error {
	if err := validateScanFlags(&opts); err != nil {
		return fail("Invalid flags", err, nil)
	}

	info, err := media.Probe(ctx, opts.InputPath)
	if err != nil {
		return fail("Failed to read video", err, nil)
	}
	fmt.Fprintf(os.Stderr, "📼 %s: %dx%d @ %.2f fps\n", filepath.Base(opts.InputPath), info.Width, info.Height, info.FPS)

	if opts.Persist {
		if err := openDB(ctx); err != nil {
			return fail("Database unavailable", err, nil)
		}
	}

	m := metrics.New()
	if opts.MetricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := m.Serve(metricsCtx, opts.MetricsAddr); err != nil {
				logger.Errorf("Metrics server failed: %v", err)
			}
		}()
		fmt.Fprintf(os.Stderr, "📈 Metrics on http://%s/metrics\n", opts.MetricsAddr)
	}

	an, w, err := startEngine(ctx, opts, m)
	if err != nil {
		return fail("Failed to start detection engine", err, nil)
	}
	defer w.Close()

	total := info.FrameCount
	if opts.MaxFrames > 0 && (total <= 0 || opts.MaxFrames < total) {
		total = opts.MaxFrames
	}
	if total <= 0 {
		total = -1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🚦 Scanning"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	out := opts.OutputPath
	if out == "" {
		out = annotatedPath(opts.InputPath, ".mp4")
	}

	started := time.Now()
	res, err := pipeline.New(an, logger, m).ProcessFile(ctx, opts.InputPath, out, pipeline.Options{
		Params:      opts.params(),
		SampleEvery: opts.SampleEvery,
		MaxFrames:   opts.MaxFrames,
		OnFrame: func(index int, sampled bool) {
			bar.Add(1)
		},
	})
	bar.Finish()
	if err != nil {
		return fail("Video processing failed", err, w.Cmd)
	}
	fmt.Fprintf(os.Stderr, "\n🏁 Scan Complete. Analyzed %d of %d frames in %s.\n",
		res.FramesSampled, res.FramesRead, time.Since(started).Round(time.Second))
	fmt.Fprintf(os.Stderr, "💾 Annotated video written to %s\n", res.OutputPath)

	printSummary(res.Records)

	if opts.CSVPath != "" {
		if err := writeCSVFile(opts.CSVPath, res.Records); err != nil {
			return fail("Failed to write CSV", err, nil)
		}
		fmt.Fprintf(os.Stderr, "📄 Time series written to %s\n", opts.CSVPath)
	}

	runID := uuid.NewString()
	if opts.Persist {
		videoID, err := utils.GenerateVideoID(opts.InputPath)
		if err != nil {
			return fail("Failed to fingerprint video", err, nil)
		}
		run := store.Run{
			ID:            runID,
			VideoID:       videoID,
			Name:          opts.RunName,
			Source:        opts.InputPath,
			Output:        res.OutputPath,
			FPS:           info.FPS,
			SampleEvery:   opts.SampleEvery,
			FramesRead:    res.FramesRead,
			FramesSampled: res.FramesSampled,
		}
		if err := DB.SaveRun(ctx, run, res.Records); err != nil {
			return fail("Failed to store run", err, nil)
		}
		fmt.Fprintf(os.Stderr, "🗄️  Stored as run %s\n", runID[:8])
	}

	if len(opts.KafkaBrokers) > 0 {
		pub := export.NewKafkaPublisher(opts.KafkaBrokers, opts.KafkaTopic)
		err := pub.Publish(ctx, runID, opts.InputPath, res.Records)
		if closeErr := pub.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return fail("Failed to publish time series", err, nil)
		}
		fmt.Fprintf(os.Stderr, "📡 Published %d records to %s\n", len(res.Records), opts.KafkaTopic)
	}
	return nil
}

func writeCSVFile(path string, records []traffic.VideoFrameRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteCSV(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSummary(records []traffic.VideoFrameRecord) {
	s := traffic.Summarize(records)
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 TRAFFIC SUMMARY\n")
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	if s.Frames == 0 {
		fmt.Fprintf(os.Stderr, "No frames were analyzed.\n")
		fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
		return
	}
	first, last := records[0], records[len(records)-1]
	fmt.Fprintf(os.Stderr, "⏱️  Span:               %s -> %s\n", fmtTime(first.TimeSec), fmtTime(last.TimeSec))
	fmt.Fprintf(os.Stderr, "🎞️  Analyzed Frames:    %d\n", s.Frames)
	fmt.Fprintf(os.Stderr, "🚗 Avg Vehicles:       %.1f (max %d)\n", s.AvgTotal, s.MaxTotal)
	fmt.Fprintf(os.Stderr, "🚦 Avg Congestion:     %.1f/100 (max %.1f)\n", s.AvgCongestion, s.MaxCongestion)
	fmt.Fprintf(os.Stderr, "🏷️  Dominant Level:     %s\n", s.DominantLevel)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// validateScanFlags ensures all CLI arguments are valid before starting heavy processes.
func validateScanFlags(opts *Options) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return errs.Input("input file does not exist", err)
		}
		return errs.Input("unable to access input file", err)
	}
	if info.IsDir() {
		return errs.Input("input path is a directory, expected a video file", nil)
	}
	if info.Size() == 0 {
		return errs.Input("input file is empty", nil)
	}
	if err := opts.params().Validate(); err != nil {
		return err
	}
	if opts.SampleEvery < 1 {
		return errs.Config("invalid sample-every interval", fmt.Errorf("must be >= 1, got %d", opts.SampleEvery))
	}
	if opts.MaxFrames < 0 {
		return errs.Config("invalid max-frames", fmt.Errorf("must be >= 0, got %d", opts.MaxFrames))
	}
	if opts.RunName != "" && !opts.Persist {
		return errs.Config("--name requires --persist", nil)
	}
	return nil
}

func fmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
