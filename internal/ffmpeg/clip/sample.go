package clip

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/gwlsn/shotclock/internal/logger"
)

// DecodeError is returned when ffmpeg could not decode any frame of the input.
type DecodeError struct {
	Path   string
	Err    error
	Stderr string
}

func (e *DecodeError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("decode %s: %v (%s)", e.Path, e.Err, e.Stderr)
	}
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Stats summarizes one sampling run.
type Stats struct {
	Expected   int `json:"expected"`    // segments planned from the frame count
	Segments   int `json:"segments"`    // segments passed to the callback
	FramesRead int `json:"frames_read"` // frames decoded, excluding padding
	Short      int `json:"short"`       // segments with 1 to SegmentFrames-1 frames
	Padded     int `json:"padded"`
	Dropped    int `json:"dropped"` // planned segments never passed to the callback
}

// SegmentFunc receives each segment in index order. The segment is not
// retained after the call returns.
type SegmentFunc func(seg *Segment) error

// Sampler extracts segments from a video with a single ffmpeg decode.
type Sampler struct {
	ffmpegPath string
	policy     Policy
}

// NewSampler creates a Sampler using the given ffmpeg binary and short segment policy
func NewSampler(ffmpegPath string, policy Policy) *Sampler {
	return &Sampler{ffmpegPath: ffmpegPath, policy: policy}
}

// Policy returns the short segment policy in effect
func (s *Sampler) Policy() Policy {
	return s.policy
}

// BuildFilter returns the ffmpeg filtergraph that selects every sampled frame
// of the first numSegments windows and preprocesses it.
// Stride*SegmentFrames == WindowFrames, so the sampled frames are exactly the
// multiples of Stride below numSegments*WindowFrames.
// swscale bilinear widens its kernel when downscaling, so sources larger than
// ResizeSize come out slightly smoother than an OpenCV INTER_LINEAR resize.
func BuildFilter(numSegments int) string {
	return fmt.Sprintf(
		"select='not(mod(n\\,%d))*lt(n\\,%d)',format=bgr24,scale=%d:%d:flags=bilinear,crop=%d:%d:%d:0",
		Stride, numSegments*WindowFrames,
		ResizeSize, ResizeSize,
		FrameWidth, FrameHeight, CropLeft,
	)
}

// Sample decodes the video at path and calls fn for every segment, in order.
// totalFrames is the frame count reported by the prober.
//
// Frames that cannot be read shorten their segment; the shortfall is logged
// and handled by the sampler's policy. The ffmpeg process is released on
// every return path.
func (s *Sampler) Sample(ctx context.Context, path string, totalFrames int64, fn SegmentFunc) (*Stats, error) {
	numSegments := NumSegments(totalFrames)

	args := []string{
		"-v", "error",
		"-nostdin",
		"-i", path,
		"-map", "0:v:0",
		"-vf", BuildFilter(numSegments),
		"-fps_mode", "passthrough",
		"-pix_fmt", "bgr24",
		"-f", "rawvideo",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	logger.Debug("FFmpeg command", "args", strings.Join(args, " "))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waited := false
	defer func() {
		if !waited {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}
	}()

	stats, err := readSegments(stdout, numSegments, s.policy, fn)
	if err != nil {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		return stats, err
	}

	// Nothing past the last window is selected, so this only drains stragglers
	_, _ = io.Copy(io.Discard, stdout)
	waited = true
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return stats, ctx.Err()
	}
	if waitErr != nil {
		if stats.FramesRead == 0 {
			return stats, &DecodeError{Path: path, Err: waitErr, Stderr: lastLines(stderr.String(), 3)}
		}
		logger.Warn("FFmpeg exited with error after partial decode",
			"path", path, "frames", stats.FramesRead, "error", waitErr, "stderr", lastLines(stderr.String(), 3))
	}

	return stats, nil
}

// readSegments reads raw bgr24 frames from r and groups them into segments.
// Any read failure ends the stream; the segment being filled is shortened.
func readSegments(r io.Reader, numSegments int, policy Policy, fn SegmentFunc) (*Stats, error) {
	stats := &Stats{Expected: numSegments}
	br := bufio.NewReaderSize(r, FrameValues)
	raw := make([]byte, FrameValues)
	ended := false

	for c := 0; c < numSegments; c++ {
		seg := &Segment{Index: c, Frames: make([]Frame, 0, SegmentFrames)}

		for f := 0; f < SegmentFrames && !ended; f++ {
			if _, err := io.ReadFull(br, raw); err != nil {
				ended = true
				if err != io.EOF {
					logger.Warn("Frame read failed", "segment", c, "frame", FrameIndex(c, f), "error", err)
				}
				break
			}
			frame, err := Normalize(raw)
			if err != nil {
				return stats, err
			}
			seg.Frames = append(seg.Frames, frame)
		}

		seg.Sampled = len(seg.Frames)
		stats.FramesRead += seg.Sampled

		switch {
		case seg.Sampled == 0:
			// Nothing left to sample: the segment is dropped, not shortened
			logger.Warn("No frames left for segment, video ended early",
				"segment", c, "expected", numSegments, "policy", string(policy))
		case !seg.Full():
			stats.Short++
			logger.Warn("Segment shortened, video ended early",
				"segment", c, "sampled", seg.Sampled, "want", SegmentFrames, "policy", string(policy))
		}

		keep, err := policy.apply(seg)
		if err != nil {
			return stats, err
		}
		if !keep {
			stats.Dropped = numSegments - c
			break
		}
		if seg.Padded() {
			stats.Padded++
		}

		if err := fn(seg); err != nil {
			return stats, err
		}
		stats.Segments++
	}

	return stats, nil
}

// lastLines returns the last n non-empty lines from output
func lastLines(output string, n int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
