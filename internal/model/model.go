// Package model scores segments with a pretrained video classifier served
// by TensorFlow Serving.
package model

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gwlsn/shotclock/internal/ffmpeg/clip"
	"github.com/gwlsn/shotclock/internal/logger"
)

// ErrUnavailable is returned when the served model has no AVAILABLE version.
var ErrUnavailable = errors.New("model unavailable")

// Scorer returns the made-shot probability of one segment.
type Scorer interface {
	Score(ctx context.Context, seg *clip.Segment) (float64, error)
}

// Options configures the connection to the model server.
type Options struct {
	BaseURL string        // e.g. http://localhost:8501
	Name    string        // served model name
	Version int           // 0 selects the latest version
	Timeout time.Duration // per request
}

// Model is a handle on a served model. It is created once by Load and is
// safe for concurrent use; nothing in it changes after Load returns.
type Model struct {
	name    string
	version int
	base    string // .../v1/models/<name>[/versions/<n>]
	client  *http.Client
}

type versionStatus struct {
	Version string `json:"version"`
	State   string `json:"state"`
	Status  struct {
		ErrorCode    string `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

type statusResponse struct {
	ModelVersionStatus []versionStatus `json:"model_version_status"`
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
	Error       string      `json:"error"`
}

// Load connects to the model server and verifies the model is AVAILABLE.
func Load(ctx context.Context, opts Options) (*Model, error) {
	if opts.BaseURL == "" || opts.Name == "" {
		return nil, fmt.Errorf("model url and name are required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	base := fmt.Sprintf("%s/v1/models/%s", strings.TrimRight(opts.BaseURL, "/"), opts.Name)
	if opts.Version > 0 {
		base = fmt.Sprintf("%s/versions/%d", base, opts.Version)
	}

	m := &Model{
		name:   opts.Name,
		base:   base,
		client: &http.Client{Timeout: timeout},
	}

	version, err := m.status(ctx)
	if err != nil {
		return nil, err
	}
	m.version = version

	logger.Info("Model loaded", "name", m.name, "version", m.version, "endpoint", m.base)
	return m, nil
}

// Name returns the served model name
func (m *Model) Name() string {
	return m.name
}

// Version returns the model version resolved at load time
func (m *Model) Version() int {
	return m.version
}

// Ready reports whether the model server still has an AVAILABLE version.
func (m *Model) Ready(ctx context.Context) error {
	_, err := m.status(ctx)
	return err
}

// status returns the highest AVAILABLE version
func (m *Model) status(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.base, nil)
	if err != nil {
		return 0, fmt.Errorf("create status request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var status statusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return 0, fmt.Errorf("parse status response: %w", err)
	}

	best := -1
	for _, vs := range status.ModelVersionStatus {
		if vs.State != "AVAILABLE" {
			continue
		}
		v, err := strconv.Atoi(vs.Version)
		if err != nil {
			continue
		}
		if v > best {
			best = v
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("%w: %s has no AVAILABLE version", ErrUnavailable, m.name)
	}
	return best, nil
}

// Score submits the segment as a single-element batch and returns
// predictions[0][0].
func (m *Model) Score(ctx context.Context, seg *clip.Segment) (float64, error) {
	if len(seg.Frames) == 0 {
		return 0, fmt.Errorf("segment %d has no frames", seg.Index)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeInstances(pw, seg))
	}()
	defer pr.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.base+":predict", pr)
	if err != nil {
		return 0, fmt.Errorf("create predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("predict segment %d: %w", seg.Index, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read predict response: %w", err)
	}

	score, err := parsePrediction(resp.StatusCode, body)
	if err != nil {
		return 0, fmt.Errorf("predict segment %d: %w", seg.Index, err)
	}

	logger.Debug("Segment scored", "segment", seg.Index, "score", score, "elapsed", time.Since(start))
	return score, nil
}

func parsePrediction(statusCode int, body []byte) (float64, error) {
	var pred predictResponse
	if err := json.Unmarshal(body, &pred); err != nil {
		if statusCode != http.StatusOK {
			return 0, fmt.Errorf("status %d: %s", statusCode, strings.TrimSpace(string(body)))
		}
		return 0, fmt.Errorf("parse predict response: %w", err)
	}
	if pred.Error != "" {
		return 0, fmt.Errorf("status %d: %s", statusCode, pred.Error)
	}
	if statusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", statusCode)
	}
	if len(pred.Predictions) == 0 || len(pred.Predictions[0]) == 0 {
		return 0, fmt.Errorf("empty predictions")
	}

	score := pred.Predictions[0][0]
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("invalid score %v", score)
	}
	return score, nil
}

// writeInstances streams {"instances":[segment]} as nested JSON arrays of
// shape [1][frames][height][width][channels].
func writeInstances(w io.Writer, seg *clip.Segment) error {
	bw := bufio.NewWriterSize(w, 64<<10)
	num := make([]byte, 0, 16)

	bw.WriteString(`{"instances":[[`)
	for fi, frame := range seg.Frames {
		if len(frame) != clip.FrameValues {
			return fmt.Errorf("frame %d has %d values, want %d", fi, len(frame), clip.FrameValues)
		}
		if fi > 0 {
			bw.WriteByte(',')
		}
		bw.WriteByte('[')
		for y := 0; y < clip.FrameHeight; y++ {
			if y > 0 {
				bw.WriteByte(',')
			}
			bw.WriteByte('[')
			for x := 0; x < clip.FrameWidth; x++ {
				if x > 0 {
					bw.WriteByte(',')
				}
				bw.WriteByte('[')
				off := (y*clip.FrameWidth + x) * clip.Channels
				for c := 0; c < clip.Channels; c++ {
					if c > 0 {
						bw.WriteByte(',')
					}
					num = strconv.AppendFloat(num[:0], float64(frame[off+c]), 'g', -1, 32)
					bw.Write(num)
				}
				bw.WriteByte(']')
			}
			bw.WriteByte(']')
		}
		bw.WriteByte(']')
	}
	bw.WriteString(`]]}`)

	return bw.Flush()
}
