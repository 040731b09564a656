// Package pipeline runs the single-frame analyzer over a video, sampling every
// Nth frame and carrying the last report forward onto the frames in between.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/andresmejia3/trafficvision/internal/analyzer"
	"github.com/andresmejia3/trafficvision/internal/errs"
	"github.com/andresmejia3/trafficvision/internal/media"
	"github.com/andresmejia3/trafficvision/internal/metrics"
	"github.com/andresmejia3/trafficvision/internal/traffic"
	"github.com/andresmejia3/trafficvision/internal/types"
	"github.com/cyclopcam/logs"
)

// FrameSource yields frames in order. Next returns io.EOF at the end of the
// stream; the returned frame may be reused by the following call.
type FrameSource interface {
	Info() types.VideoInfo
	Next() (*image.RGBA, error)
	Close() error
}

// FrameSink consumes output frames. Write must not retain the frame.
type FrameSink interface {
	Write(frame *image.RGBA) error
	Close() error
}

type Options struct {
	Params      analyzer.Params
	SampleEvery int // run full analysis on every Nth frame, >= 1
	MaxFrames   int // stop after reading this many frames, 0 means no limit

	// OnFrame, if set, is called after each frame is written.
	OnFrame func(index int, sampled bool)
}

func (o Options) Validate() error {
	if err := o.Params.Validate(); err != nil {
		return err
	}
	if o.SampleEvery < 1 {
		return errs.Config("invalid sampling interval", fmt.Errorf("must be >= 1, got %d", o.SampleEvery))
	}
	if o.MaxFrames < 0 {
		return errs.Config("invalid max frames", fmt.Errorf("must be >= 0, got %d", o.MaxFrames))
	}
	return nil
}

type Result struct {
	OutputPath    string
	Records       []traffic.VideoFrameRecord
	FramesRead    int
	FramesSampled int
}

type Pipeline struct {
	analyzer *analyzer.Analyzer
	log      logs.Log
	metrics  *metrics.Metrics
}

// New creates a pipeline. m may be nil.
func New(an *analyzer.Analyzer, log logs.Log, m *metrics.Metrics) *Pipeline {
	return &Pipeline{analyzer: an, log: log, metrics: m}
}

// ProcessFile annotates the video at inPath into outPath and returns its time
// series. An empty outPath writes to a new temporary .mp4 file.
func (p *Pipeline) ProcessFile(ctx context.Context, inPath, outPath string, opts Options) (Result, error) {
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	if outPath == "" {
		tmp, err := os.CreateTemp("", "trafficvision-*.mp4")
		if err != nil {
			return Result{}, fmt.Errorf("failed to create output file: %w", err)
		}
		tmp.Close()
		outPath = tmp.Name()
	}

	src, err := media.OpenVideo(ctx, inPath)
	if err != nil {
		return Result{}, err
	}
	sink, err := media.CreateVideo(ctx, outPath, src.Info())
	if err != nil {
		src.Close()
		return Result{}, err
	}

	res, err := p.Run(ctx, src, sink, opts)
	res.OutputPath = outPath
	return res, err
}

// Run drives src through the analyzer into sink. It takes ownership of both
// and closes them on every return path.
func (p *Pipeline) Run(ctx context.Context, src FrameSource, sink FrameSink, opts Options) (res Result, err error) {
	defer func() {
		closeErr := errors.Join(src.Close(), sink.Close())
		if closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	if err := opts.Validate(); err != nil {
		return res, err
	}
	fps := src.Info().FPS

	var last *traffic.FrameReport
	for index := 0; ; index++ {
		if opts.MaxFrames > 0 && res.FramesRead >= opts.MaxFrames {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// An unreadable frame ends the stream; everything written so far stays valid.
			p.log.Warnf("Stopping at frame %v: %v", index, err)
			p.metrics.ReadError()
			break
		}
		res.FramesRead++
		p.metrics.FrameRead()

		out, next, record, err := p.step(index, frame, last, fps, opts)
		if err != nil {
			return res, fmt.Errorf("frame %d: %w", index, err)
		}
		last = next
		if record != nil {
			res.Records = append(res.Records, *record)
			res.FramesSampled++
		}

		if err := sink.Write(out); err != nil {
			return res, fmt.Errorf("failed to write frame %d: %w", index, err)
		}
		p.metrics.FrameWritten()
		if opts.OnFrame != nil {
			opts.OnFrame(index, record != nil)
		}
	}

	if res.FramesSampled == 0 {
		p.log.Warnf("No frames were sampled from a %v-frame read", res.FramesRead)
	}
	return res, nil
}

// step processes one frame. last is the most recent report, or nil before the
// first sampled frame; the returned report replaces it for the next call.
// record is non-nil only for sampled frames.
func (p *Pipeline) step(index int, frame *image.RGBA, last *traffic.FrameReport, fps float64, opts Options) (out *image.RGBA, next *traffic.FrameReport, record *traffic.VideoFrameRecord, err error) {
	annotator := p.analyzer.Annotator()

	if index%opts.SampleEvery != 0 {
		if last == nil {
			return frame, nil, nil, nil
		}
		// Boxes are drawn on sampled frames only.
		return annotator.HUD(frame, last, false), last, nil, nil
	}

	report, err := p.analyzer.Analyze(frame, opts.Params)
	if err != nil {
		return nil, last, nil, err
	}
	p.metrics.FrameSampled()
	rec := traffic.NewVideoFrameRecord(index, fps, report.Analytics)
	return annotator.HUD(frame, report, true), report, &rec, nil
}
