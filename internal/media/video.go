// Package media reads and writes frames: videos through ffmpeg pipes, still
// images through the image codecs.
package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/andresmejia3/trafficvision/internal/errs"
	"github.com/andresmejia3/trafficvision/internal/types"
	"github.com/andresmejia3/trafficvision/internal/utils"
)

// VideoReader decodes a video file into RGBA frames.
type VideoReader struct {
	info    types.VideoInfo
	decoder *utils.SafeCommand
	out     io.ReadCloser
	frame   *image.RGBA
	drained bool
	closed  bool
}

// checkInputFile rejects missing, directory and zero-byte inputs before any
// decoder is started.
func checkInputFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errs.Input("input file does not exist", err)
		}
		return errs.Input("unable to access input file", err)
	}
	if info.IsDir() {
		return errs.Input("input path is a directory, expected a file", nil)
	}
	if info.Size() == 0 {
		return errs.Input("input file is empty", nil)
	}
	return nil
}

// Probe checks that path is a readable video and returns its stream info.
// Anything wrong with the file itself is an input error; a missing ffprobe
// is a configuration error.
func Probe(ctx context.Context, path string) (types.VideoInfo, error) {
	if err := checkInputFile(path); err != nil {
		return types.VideoInfo{}, err
	}
	info, err := utils.ProbeVideo(ctx, path)
	if err != nil {
		if errors.Is(err, errs.ErrConfig) {
			return types.VideoInfo{}, err
		}
		return types.VideoInfo{}, errs.Input("unreadable video container", err)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return types.VideoInfo{}, errs.Input(fmt.Sprintf("invalid video dimensions %dx%d", info.Width, info.Height), nil)
	}
	return info, nil
}

// OpenVideo probes path and starts decoding it.
func OpenVideo(ctx context.Context, path string) (*VideoReader, error) {
	info, err := Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	decoder := utils.NewFFmpegRawDecoder(ctx, path)
	out, err := decoder.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	if err := decoder.Start(); err != nil {
		return nil, errs.Config("failed to start ffmpeg decoder", err)
	}

	return &VideoReader{
		info:    info,
		decoder: decoder,
		out:     out,
		frame:   image.NewRGBA(image.Rect(0, 0, info.Width, info.Height)),
	}, nil
}

func (r *VideoReader) Info() types.VideoInfo {
	return r.info
}

// Next returns the next frame. The returned image is reused by the following
// call. It returns io.EOF at the end of the stream.
func (r *VideoReader) Next() (*image.RGBA, error) {
	if r.drained {
		return nil, io.EOF
	}
	if _, err := io.ReadFull(r.out, r.frame.Pix); err != nil {
		r.drained = true
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("truncated frame: %w", err)
	}
	return r.frame, nil
}

// Close stops the decoder. Stopping before the end of the stream is not an error.
func (r *VideoReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	early := !r.drained
	r.out.Close()
	if early && r.decoder.Process != nil {
		r.decoder.Process.Kill()
	}
	err := r.decoder.Wait()
	if early {
		return nil
	}
	if err != nil {
		if logs := r.decoder.Logs(); logs != "" {
			return fmt.Errorf("decoder process failed: %w: %s", err, logs)
		}
		return fmt.Errorf("decoder process failed: %w", err)
	}
	return nil
}

// VideoWriter encodes RGBA frames into an MP4 file.
type VideoWriter struct {
	path    string
	width   int
	height  int
	encoder *utils.SafeCommand
	in      io.WriteCloser
	closed  bool
}

// CreateVideo starts an encoder writing to path with the same rate and size as info.
func CreateVideo(ctx context.Context, path string, info types.VideoInfo) (*VideoWriter, error) {
	rate := info.Rate
	if utils.ParseRate(rate) <= 0 {
		rate = fmt.Sprintf("%g", info.FPS)
	}
	encoder := utils.NewFFmpegEncoder(ctx, path, rate, info.Width, info.Height)
	in, err := encoder.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder pipe: %w", err)
	}
	if err := encoder.Start(); err != nil {
		return nil, errs.Config("failed to start ffmpeg encoder", err)
	}
	return &VideoWriter{
		path:    path,
		width:   info.Width,
		height:  info.Height,
		encoder: encoder,
		in:      in,
	}, nil
}

func (w *VideoWriter) Path() string {
	return w.path
}

func (w *VideoWriter) Write(frame *image.RGBA) error {
	if frame.Rect.Dx() != w.width || frame.Rect.Dy() != w.height {
		return fmt.Errorf("frame is %dx%d, encoder expects %dx%d", frame.Rect.Dx(), frame.Rect.Dy(), w.width, w.height)
	}
	rowBytes := w.width * 4
	if frame.Stride == rowBytes {
		_, err := w.in.Write(frame.Pix[:rowBytes*w.height])
		return err
	}
	for y := 0; y < w.height; y++ {
		off := y * frame.Stride
		if _, err := w.in.Write(frame.Pix[off : off+rowBytes]); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes the encoder and waits for the output file to be finalized.
func (w *VideoWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.in.Close()
	if err := w.encoder.Wait(); err != nil {
		if logs := w.encoder.Logs(); logs != "" {
			return fmt.Errorf("encoder process failed: %w: %s", err, logs)
		}
		return fmt.Errorf("encoder process failed: %w", err)
	}
	return nil
}
