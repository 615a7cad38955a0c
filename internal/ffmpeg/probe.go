package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrNoVideoStream is returned when the input has no decodable video stream.
var ErrNoVideoStream = errors.New("no video stream")

// ProbeResult contains metadata about a video file
type ProbeResult struct {
	Path       string        `json:"path"`
	Size       int64         `json:"size"`
	Duration   time.Duration `json:"duration"`
	Format     string        `json:"format"`
	VideoCodec string        `json:"video_codec"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	FrameRate  float64       `json:"frame_rate"`
	// FrameCount is the total number of frames in the first video stream.
	// Taken from container metadata when present, otherwise estimated from
	// duration and frame rate, otherwise counted by decoding.
	FrameCount  int64  `json:"frame_count"`
	FrameSource string `json:"frame_source"` // "metadata", "estimate" or "counted"
}

// ffprobeOutput represents the JSON output from ffprobe
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

type ffprobeStream struct {
	Index        int    `json:"index"`
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Duration     string `json:"duration"`
	NbFrames     string `json:"nb_frames"`
	NbReadFrames string `json:"nb_read_frames"`
}

// Prober wraps ffprobe functionality
type Prober struct {
	ffprobePath string
}

// NewProber creates a new Prober with the given ffprobe path
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath}
}

// Probe returns metadata about a video file
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	output, err := p.run(ctx,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, err
	}

	result, err := parseProbeOutput(path, output)
	if err != nil {
		return nil, err
	}

	if result.FrameCount == 0 {
		count, err := p.CountFrames(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("count frames: %w", err)
		}
		result.FrameCount = count
		result.FrameSource = "counted"
	}

	return result, nil
}

// CountFrames decodes the first video stream and returns the number of frames read.
// This is slow; Probe only falls back to it when metadata is missing.
func (p *Prober) CountFrames(ctx context.Context, path string) (int64, error) {
	output, err := p.run(ctx,
		"-v", "quiet",
		"-print_format", "json",
		"-count_frames",
		"-select_streams", "v:0",
		"-show_entries", "stream=nb_read_frames",
		path,
	)
	if err != nil {
		return 0, err
	}

	var probeOutput ffprobeOutput
	if err := json.Unmarshal(output, &probeOutput); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(probeOutput.Streams) == 0 {
		return 0, ErrNoVideoStream
	}

	return strconv.ParseInt(probeOutput.Streams[0].NbReadFrames, 10, 64)
}

func (p *Prober) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)

	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("ffprobe failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return output, nil
}

// parseProbeOutput builds a ProbeResult from ffprobe's JSON.
// FrameCount is left at 0 when neither metadata nor an estimate is available.
func parseProbeOutput(path string, output []byte) (*ProbeResult, error) {
	var probeOutput ffprobeOutput
	if err := json.Unmarshal(output, &probeOutput); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	result := &ProbeResult{
		Path:   path,
		Format: probeOutput.Format.FormatName,
	}

	if probeOutput.Format.Size != "" {
		result.Size, _ = strconv.ParseInt(probeOutput.Format.Size, 10, 64)
	}
	if probeOutput.Format.Duration != "" {
		durationSec, _ := strconv.ParseFloat(probeOutput.Format.Duration, 64)
		result.Duration = time.Duration(durationSec * float64(time.Second))
	}

	var video *ffprobeStream
	for i := range probeOutput.Streams {
		if probeOutput.Streams[i].CodecType == "video" {
			video = &probeOutput.Streams[i]
			break
		}
	}
	if video == nil {
		return nil, fmt.Errorf("%w in %s", ErrNoVideoStream, path)
	}

	result.VideoCodec = video.CodecName
	result.Width = video.Width
	result.Height = video.Height
	result.FrameRate = parseFrameRate(video.RFrameRate)
	if result.FrameRate == 0 {
		result.FrameRate = parseFrameRate(video.AvgFrameRate)
	}

	if n, err := strconv.ParseInt(video.NbFrames, 10, 64); err == nil && n > 0 {
		result.FrameCount = n
		result.FrameSource = "metadata"
		return result, nil
	}

	// Matroska and some streams carry no nb_frames; estimate from duration
	duration := result.Duration
	if video.Duration != "" {
		if sec, err := strconv.ParseFloat(video.Duration, 64); err == nil && sec > 0 {
			duration = time.Duration(sec * float64(time.Second))
		}
	}
	if est := estimateFrames(duration, result.FrameRate); est > 0 {
		result.FrameCount = est
		result.FrameSource = "estimate"
	}

	return result, nil
}

// estimateFrames returns floor(duration * fps), or 0 if either is unknown
func estimateFrames(duration time.Duration, fps float64) int64 {
	if duration <= 0 || fps <= 0 {
		return 0
	}
	return int64(math.Floor(duration.Seconds() * fps))
}

// parseFrameRate parses a frame rate string like "30000/1001" or "30/1"
func parseFrameRate(s string) float64 {
	if s == "" || s == "0/0" {
		return 0
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}

// videoExtensions are containers ffmpeg commonly receives from phones and
// cameras.
var videoExtensions = map[string]bool{
	".mp4": true, ".m4v": true, ".mov": true, ".3gp": true,
	".mkv": true, ".webm": true, ".avi": true, ".wmv": true,
	".flv": true, ".mpeg": true, ".mpg": true, ".m2ts": true, ".ts": true,
}

// IsVideoFile reports whether the file extension suggests a video container.
// It is a hint only; Probe is what decides.
func IsVideoFile(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}
