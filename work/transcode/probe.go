package transcode

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"mediabridge/work/errs"
	"mediabridge/work/logger"
)

// ProbeDuration extracts the container duration in seconds from a transcode
// input. Unlike playback streams, this incidental metadata probe carries a
// wall-clock timeout and the prober is killed when it is exceeded.
func (o *Orchestrator) ProbeDuration(ctx context.Context, input string) (float64, error) {
	probeCtx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, o.cfg.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	)

	out, err := cmd.Output()
	if err != nil {
		if probeCtx.Err() == context.DeadlineExceeded {
			return 0, errs.Wrap(errs.SubprocessFailure, probeCtx.Err(), "duration probe timed out after %s", o.cfg.ProbeTimeout)
		}
		return 0, errs.Wrap(errs.SubprocessFailure, err, "duration probe failed")
	}

	text := strings.TrimSpace(string(out))
	duration, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, errs.Wrap(errs.SubprocessFailure, err, "unparsable probe output %q", text)
	}

	logger.Debug("{transcode/probe - ProbeDuration} Input duration: %.2fs", duration)
	return duration, nil
}
