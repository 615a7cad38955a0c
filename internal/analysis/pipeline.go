// Package analysis runs the sample -> score -> aggregate pipeline for one video.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/gwlsn/shotclock/internal/ffmpeg"
	"github.com/gwlsn/shotclock/internal/ffmpeg/clip"
	"github.com/gwlsn/shotclock/internal/logger"
	"github.com/gwlsn/shotclock/internal/metrics"
	"github.com/gwlsn/shotclock/internal/model"
)

// Prober reports the frame count of a video.
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

// Sampler streams preprocessed segments of a video.
type Sampler interface {
	Sample(ctx context.Context, path string, totalFrames int64, fn clip.SegmentFunc) (*clip.Stats, error)
	Policy() clip.Policy
}

// PrepareFunc runs once the pipeline slot is held, before the video is
// probed. Moving an upload into its shared location belongs here.
type PrepareFunc func() error

// FinishFunc runs after aggregation while the pipeline slot is still held.
// Presentation that writes to shared paths belongs here.
type FinishFunc func(a *Analysis) error

// Analysis is the outcome of one pipeline run.
type Analysis struct {
	ID          string        `json:"id"`
	VideoPath   string        `json:"video_path"`
	TotalFrames int64         `json:"total_frames"`
	FrameSource string        `json:"frame_source"`
	Scores      []float64     `json:"scores"`
	Sampled     []int         `json:"sampled"` // frames read per scored segment
	Threshold   float64       `json:"threshold"`
	Policy      string        `json:"policy"`
	Result      Result        `json:"result"`
	Stats       clip.Stats    `json:"stats"`
	StartedAt   time.Time     `json:"started_at"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Pipeline wires the sampler to a shared model handle. Runs are serialized:
// one video is processed at a time.
type Pipeline struct {
	prober    Prober
	sampler   Sampler
	scorer    model.Scorer
	threshold float64
	gate      *semaphore.Weighted
}

// NewPipeline creates a pipeline. scorer is shared read-only state, loaded
// once at startup.
func NewPipeline(prober Prober, sampler Sampler, scorer model.Scorer, threshold float64) *Pipeline {
	if threshold <= 0 || threshold >= 1 {
		threshold = Threshold
	}
	return &Pipeline{
		prober:    prober,
		sampler:   sampler,
		scorer:    scorer,
		threshold: threshold,
		gate:      semaphore.NewWeighted(1),
	}
}

// Threshold returns the positive cutoff in effect
func (p *Pipeline) Threshold() float64 {
	return p.threshold
}

// Run analyzes the video at path. It waits for any running analysis to
// finish first, or until ctx is done. prepare and finish may be nil.
func (p *Pipeline) Run(ctx context.Context, path string, prepare PrepareFunc, finish FinishFunc) (*Analysis, error) {
	if err := p.gate.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for pipeline: %w", err)
	}
	defer p.gate.Release(1)

	if prepare != nil {
		if err := prepare(); err != nil {
			metrics.AnalysesTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("prepare %s: %w", path, err)
		}
	}

	a, err := p.run(ctx, path, finish)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.AnalysesTotal.WithLabelValues("success").Inc()
	return a, nil
}

func (p *Pipeline) run(ctx context.Context, path string, finish FinishFunc) (*Analysis, error) {
	a := &Analysis{
		ID:        uuid.NewString(),
		VideoPath: path,
		Threshold: p.threshold,
		Policy:    string(p.sampler.Policy()),
		Scores:    []float64{},
		Sampled:   []int{},
		StartedAt: time.Now(),
	}

	stage := time.Now()
	probe, err := p.prober.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}
	metrics.StageDuration.WithLabelValues("probe").Observe(time.Since(stage).Seconds())
	a.TotalFrames = probe.FrameCount
	a.FrameSource = probe.FrameSource

	logger.Info("Analysis started", "id", a.ID, "path", path,
		"frames", probe.FrameCount, "source", probe.FrameSource, "segments", clip.NumSegments(probe.FrameCount))

	stage = time.Now()
	stats, err := p.sampler.Sample(ctx, path, probe.FrameCount, func(seg *clip.Segment) error {
		score, err := p.scorer.Score(ctx, seg)
		if err != nil {
			return err
		}
		a.Scores = append(a.Scores, score)
		a.Sampled = append(a.Sampled, seg.Sampled)
		metrics.SegmentsScoredTotal.Inc()
		return nil
	})
	if stats != nil {
		a.Stats = *stats
		metrics.FramesSampledTotal.Add(float64(stats.FramesRead))
		if stats.Short > 0 {
			metrics.ShortSegmentsTotal.WithLabelValues(a.Policy).Add(float64(stats.Short))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("sample and score %s: %w", path, err)
	}
	metrics.StageDuration.WithLabelValues("score").Observe(time.Since(stage).Seconds())

	a.Result = AggregateWithThreshold(a.Scores, p.threshold)
	metrics.PositiveSegmentsTotal.Add(float64(len(a.Result.Positive)))

	a.Elapsed = time.Since(a.StartedAt)

	if finish != nil {
		stage = time.Now()
		if err := finish(a); err != nil {
			return nil, err
		}
		metrics.StageDuration.WithLabelValues("finish").Observe(time.Since(stage).Seconds())
	}

	logger.Info("Analysis complete", "id", a.ID, "segments", len(a.Scores),
		"positive", a.Result.Positive, "short", a.Stats.Short, "elapsed", a.Elapsed)

	return a, nil
}
