package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"os/exec"
	"time"

	"github.com/andresmejia3/trafficvision/internal/analyzer"
	"github.com/andresmejia3/trafficvision/internal/errs"
	"github.com/andresmejia3/trafficvision/internal/types"
	"github.com/andresmejia3/trafficvision/internal/utils" // Using the SafeCommand wrapper
)

const (
	statusOK    byte = 0
	statusError byte = 1

	// maxResponse bounds a single reply so a corrupt header cannot make us allocate gigabytes.
	maxResponse = 64 * 1024 * 1024
	// detectionSize is class(int32) + confidence(float32) + box(4 x float32)
	detectionSize = 4 + 4 + 16
)

// Config controls how the Python detector process is launched.
type Config struct {
	Python      string        // interpreter, e.g. "python3"
	Script      string        // path to the detector adapter script
	ModelPath   string        // model weights passed to the script
	ReadTimeout time.Duration // per-frame reply deadline, 0 disables it
}

// PythonWorker runs the detection model in a child Python process.
// It is not safe for concurrent use.
type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration
}

// NewPythonWorker starts the detector process and waits until the model is loaded.
// A missing model or a model the script cannot load is a configuration error.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errs.Config(fmt.Sprintf("model artifact %q not found", cfg.ModelPath), err)
	}
	if _, err := os.Stat(cfg.Script); err != nil {
		return nil, errs.Config(fmt.Sprintf("detector script %q not found", cfg.Script), err)
	}

	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script, "--model", cfg.ModelPath)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, errs.Config(fmt.Sprintf("worker %d failed to start", id), err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	pw := &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}

	// The script announces itself with an empty OK reply once the model is loaded.
	if _, err := pw.readReply(0); err != nil {
		pw.Close()
		if logs := py.Logs(); logs != "" {
			err = fmt.Errorf("%w\n%s", err, logs)
		}
		return nil, errs.Config("detector failed to load model", err)
	}
	return pw, nil
}

// Detect implements analyzer.Detector.
func (w *PythonWorker) Detect(frame *image.RGBA, p analyzer.Params) ([]types.RawDetection, error) {
	task := types.FrameTask{
		Width:  frame.Rect.Dx(),
		Height: frame.Rect.Dy(),
		Data:   packRGB(frame),
	}
	return w.ProcessFrame(task, p)
}

// ProcessFrame sends one frame and decodes the detections in the reply.
func (w *PythonWorker) ProcessFrame(task types.FrameTask, p analyzer.Params) ([]types.RawDetection, error) {
	if err := w.send(task, p); err != nil {
		return nil, fmt.Errorf("failed to send frame to worker %d: %w", w.ID, err)
	}
	return w.readReply(w.ReadTimeout)
}

// send writes [Length][Conf][IoU][Width][Height][RGB...]
func (w *PythonWorker) send(task types.FrameTask, p analyzer.Params) error {
	header := make([]byte, 20)
	binary.BigEndian.PutUint32(header[0:], uint32(16+len(task.Data)))
	binary.BigEndian.PutUint32(header[4:], math.Float32bits(float32(p.Confidence)))
	binary.BigEndian.PutUint32(header[8:], math.Float32bits(float32(p.IoU)))
	binary.BigEndian.PutUint32(header[12:], uint32(task.Width))
	binary.BigEndian.PutUint32(header[16:], uint32(task.Height))
	if _, err := w.Stdin.Write(header); err != nil {
		return err
	}
	_, err := w.Stdin.Write(task.Data)
	return err
}

type reply struct {
	dets []types.RawDetection
	err  error
}

func (w *PythonWorker) readReply(timeout time.Duration) ([]types.RawDetection, error) {
	if timeout <= 0 {
		return w.readFrame()
	}

	done := make(chan reply, 1)
	go func() {
		dets, err := w.readFrame()
		done <- reply{dets, err}
	}()

	select {
	case r := <-done:
		return r.dets, r.err
	case <-time.After(timeout):
		// The reader goroutine is unblocked when the process dies and the pipe closes.
		if w.Cmd != nil && w.Cmd.Process != nil {
			w.Cmd.Process.Kill()
		}
		return nil, fmt.Errorf("worker %d did not reply within %v", w.ID, timeout)
	}
}

// readFrame reads [Length][Status] followed by either
// [Count][Class Conf X1 Y1 X2 Y2]... or [MsgLen][Msg].
func (w *PythonWorker) readFrame() ([]types.RawDetection, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch a crashed interpreter
	}
	respLen := binary.BigEndian.Uint32(header)
	if respLen == 0 || respLen > maxResponse {
		return nil, fmt.Errorf("invalid reply length %d", respLen)
	}
	body := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, body); err != nil {
		return nil, err
	}
	return decodeReply(body)
}

func decodeReply(body []byte) ([]types.RawDetection, error) {
	r := bytes.NewReader(body)
	status, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	switch status {
	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed error reply: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed error reply: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	case statusOK:
	default:
		return nil, fmt.Errorf("unknown reply status %d", status)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("malformed reply: %w", err)
	}
	if int64(count)*detectionSize != int64(r.Len()) {
		return nil, fmt.Errorf("malformed reply: %d detections but %d payload bytes", count, r.Len())
	}

	dets := make([]types.RawDetection, count)
	for i := range dets {
		var raw struct {
			Class int32
			Conf  float32
			Box   [4]float32
		}
		if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
			return nil, fmt.Errorf("malformed detection %d: %w", i, err)
		}
		dets[i] = types.RawDetection{
			ClassIndex: int(raw.Class),
			Confidence: float64(raw.Conf),
			Box:        [4]float64{float64(raw.Box[0]), float64(raw.Box[1]), float64(raw.Box[2]), float64(raw.Box[3])},
		}
	}
	return dets, nil
}

// packRGB drops the alpha channel; the model expects 3-channel RGB.
func packRGB(frame *image.RGBA) []byte {
	w, h := frame.Rect.Dx(), frame.Rect.Dy()
	out := make([]byte, 0, w*h*3)
	for y := 0; y < h; y++ {
		row := frame.Pix[y*frame.Stride : y*frame.Stride+w*4]
		for x := 0; x < len(row); x += 4 {
			out = append(out, row[x], row[x+1], row[x+2])
		}
	}
	return out
}

// Close shuts the worker down. The script exits when its stdin closes.
func (w *PythonWorker) Close() error {
	var errList []error
	if w.Stdin != nil {
		errList = append(errList, w.Stdin.Close())
	}
	if w.DataPipe != nil {
		errList = append(errList, w.DataPipe.Close())
	}
	if w.Cmd != nil {
		if err := w.Cmd.Wait(); err != nil && !isKilled(err) {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// isKilled reports whether the process was terminated by a signal, which is
// how a timed-out worker ends.
func isKilled(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == -1
}
