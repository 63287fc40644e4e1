package transcode

import (
	"context"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"sync/atomic"
	"syscall"

	"mediabridge/work/buffer"
	"mediabridge/work/config"
	"mediabridge/work/errs"
	"mediabridge/work/logger"
	"mediabridge/work/metrics"
	"mediabridge/work/source"

	"github.com/grafana/regexp"
)

// offsetPattern is the only accepted shape for a seek offset. The value is
// interpolated into a process argument list, so this check is a security
// boundary and runs before anything is spawned.
var offsetPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ValidateOffset rejects any seek offset that is not a plain decimal number
// of seconds. The empty string means "no seek" and is accepted.
func ValidateOffset(offset string) error {
	if offset == "" {
		return nil
	}
	if !offsetPattern.MatchString(offset) {
		return errs.New(errs.InvalidParameter, "invalid seek offset %q", offset)
	}
	return nil
}

// Orchestrator spawns and supervises one external transcoder process per
// request. A module-wide counter enforces the concurrency ceiling; requests
// beyond it are rejected immediately rather than queued, since queuing
// CPU-bound transcodes only moves the overload downstream.
type Orchestrator struct {
	cfg     *config.Config
	buffers *buffer.Pool
	active  atomic.Int32
}

// New creates the orchestrator.
func New(cfg *config.Config, buffers *buffer.Pool) *Orchestrator {
	return &Orchestrator{cfg: cfg, buffers: buffers}
}

// acquire claims a transcode slot or fails immediately at the ceiling.
func (o *Orchestrator) acquire() error {
	limit := int32(o.cfg.MaxTranscodes)
	if o.active.Add(1) > limit {
		o.active.Add(-1)
		metrics.TranscodesRejected.Inc()
		return errs.New(errs.ConcurrencyLimitExceeded, "transcode ceiling of %d reached", limit)
	}
	metrics.ActiveTranscodes.Inc()
	return nil
}

func (o *Orchestrator) release() {
	o.active.Add(-1)
	metrics.ActiveTranscodes.Dec()
}

// Active returns the number of transcoder processes currently running.
func (o *Orchestrator) Active() int {
	return int(o.active.Load())
}

// Stream transcodes src into an mpegts byte stream written to w as it is
// produced. The seek offset, when present, is placed before the input
// argument (seek-before-input is faster and frame-accurate enough here).
// The process runs in its own group and the group gets SIGKILL on every
// exit path, so a disconnecting client never leaves an orphaned transcoder.
func (o *Orchestrator) Stream(ctx context.Context, w io.Writer, src source.Source, offset string) error {
	if err := ValidateOffset(offset); err != nil {
		return err
	}
	if err := o.acquire(); err != nil {
		return err
	}
	defer o.release()

	input, err := src.TranscodeInput(ctx)
	if err != nil {
		return err
	}

	if offset != "" {
		// best-effort clamp: a probe failure must not block playback, but a
		// seek past the end is a client error worth reporting
		if dur, probeErr := o.ProbeDuration(ctx, input); probeErr == nil && dur > 0 {
			if off, _ := strconv.ParseFloat(offset, 64); off >= dur {
				return errs.New(errs.InvalidParameter, "seek offset %ss beyond media duration %.2fs", offset, dur)
			}
		}
	}

	args := make([]string, 0, len(o.cfg.FFmpegPreInput)+len(o.cfg.FFmpegPreOutput)+8)
	args = append(args, o.cfg.FFmpegPreInput...)
	if offset != "" {
		args = append(args, "-ss", offset)
	}
	args = append(args, "-i", input)
	args = append(args, o.cfg.FFmpegPreOutput...)
	args = append(args, "-f", "mpegts", "-")

	return o.run(ctx, args, w)
}

// Segment transcodes src into an HLS segment set under dir: index.m3u8 plus
// numbered .ts files. Runs to completion (or cancellation) and counts
// against the same concurrency ceiling as single-shot transcodes.
func (o *Orchestrator) Segment(ctx context.Context, src source.Source, dir string) error {
	if err := o.acquire(); err != nil {
		return err
	}
	defer o.release()

	input, err := src.TranscodeInput(ctx)
	if err != nil {
		return err
	}

	args := make([]string, 0, len(o.cfg.FFmpegPreInput)+len(o.cfg.FFmpegPreOutput)+12)
	args = append(args, o.cfg.FFmpegPreInput...)
	args = append(args, "-i", input)
	args = append(args, o.cfg.FFmpegPreOutput...)
	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(o.cfg.SegmentDuration),
		"-hls_list_size", "0",
		"-hls_segment_filename", dir+"/seg%05d.ts",
		dir+"/index.m3u8",
	)

	return o.run(ctx, args, nil)
}

// run spawns ffmpeg with the given arguments, piping stdout to w when w is
// non-nil, and guarantees process-group termination on every exit path
// through a single cleanup routine.
func (o *Orchestrator) run(ctx context.Context, args []string, w io.Writer) error {
	if o.cfg.Debug {
		logger.Debug("{transcode - run} Command: %s %v", o.cfg.FFmpegPath, args)
	}

	cmd := exec.CommandContext(ctx, o.cfg.FFmpegPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	tail := newTailBuffer(4096)
	cmd.Stderr = tail

	var stdout io.ReadCloser
	if w != nil {
		pipe, pipeErr := cmd.StdoutPipe()
		if pipeErr != nil {
			return errs.Wrap(errs.SubprocessFailure, pipeErr, "create transcoder stdout pipe")
		}
		stdout = pipe
	}

	if err := cmd.Start(); err != nil {
		return errs.Wrap(errs.SubprocessFailure, err, "spawn transcoder")
	}

	waited := false
	defer func() {
		if cmd.Process != nil {
			syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		if !waited {
			cmd.Wait()
		}
	}()

	if stdout != nil {
		if err := o.pipe(ctx, w, stdout); err != nil {
			return err
		}
	}

	waitErr := cmd.Wait()
	waited = true

	if ctx.Err() != nil {
		// cancelled by the client; exit status is meaningless now
		logger.Debug("{transcode - run} Transcoder cancelled: %v", ctx.Err())
		return nil
	}
	if waitErr != nil {
		metrics.StreamErrors.WithLabelValues("subprocess").Inc()
		logger.Error("{transcode - run} Transcoder exited abnormally: %v - stderr: %s", waitErr, tail.String())
		return errs.Wrap(errs.SubprocessFailure, waitErr, "transcoder exited abnormally")
	}

	return nil
}

// pipe copies transcoder stdout to the client as it is produced, flushing
// after every chunk so playback starts without waiting on buffers.
func (o *Orchestrator) pipe(ctx context.Context, w io.Writer, stdout io.Reader) error {
	flusher, _ := w.(http.Flusher)

	buf := o.buffers.Get()
	defer o.buffers.Put(buf)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("{transcode - pipe} Client disconnected")
			return nil
		default:
		}

		n, readErr := stdout.Read(buf.B)
		if n > 0 {
			if _, writeErr := w.Write(buf.B[:n]); writeErr != nil {
				logger.Debug("{transcode - pipe} Write failed: %v", writeErr)
				return nil
			}
			metrics.BytesServed.WithLabelValues("transcode").Add(float64(n))
			if flusher != nil {
				flusher.Flush()
			}
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			// pipe closes when the process dies; Wait will classify it
			return nil
		}
	}
}
