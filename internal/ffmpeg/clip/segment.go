// Package clip samples fixed windows of preprocessed frames from a video.
//
// A video is split into windows of WindowFrames frames. From each window
// SegmentFrames frames are taken at a stride of Stride, resized to
// ResizeSize x ResizeSize, cropped to FrameHeight x FrameWidth starting at
// column CropLeft, and normalized to [0,1]. Channel order is BGR.
package clip

import (
	"errors"
	"fmt"
)

// Sampling geometry
const (
	WindowFrames  = 60
	SegmentFrames = 20
	Stride        = 3

	ResizeSize  = 420
	CropLeft    = 80
	FrameHeight = 210
	FrameWidth  = 270
	Channels    = 3

	// FrameValues is the number of float32 values in one preprocessed frame.
	FrameValues = FrameHeight * FrameWidth * Channels
)

// ErrShortSegment is returned under PolicyReject when a segment has fewer
// than SegmentFrames frames.
var ErrShortSegment = errors.New("short segment")

// Frame is one preprocessed frame in height x width x channel order.
type Frame []float32

// At returns the value at row y, column x, channel c.
func (f Frame) At(y, x, c int) float32 {
	return f[(y*FrameWidth+x)*Channels+c]
}

// Shape returns the frame dimensions as [height, width, channels].
func (f Frame) Shape() [3]int {
	return [3]int{FrameHeight, FrameWidth, Channels}
}

// Segment is one window of sampled frames, submitted to the model as a unit.
type Segment struct {
	Index  int     `json:"index"`
	Frames []Frame `json:"-"`
	// Sampled is the number of frames actually read from the video, before
	// any padding.
	Sampled int `json:"sampled"`
}

// Full reports whether the segment holds SegmentFrames frames.
func (s *Segment) Full() bool {
	return len(s.Frames) == SegmentFrames
}

// Padded reports whether frames were repeated to fill the segment.
func (s *Segment) Padded() bool {
	return len(s.Frames) > s.Sampled
}

// NumSegments returns the number of windows for a video: max(1, totalFrames/60).
func NumSegments(totalFrames int64) int {
	n := totalFrames / WindowFrames
	if n < 1 {
		return 1
	}
	return int(n)
}

// FrameIndex returns the absolute frame index of local frame f in segment c.
func FrameIndex(segment, local int) int64 {
	return int64(local*Stride) + int64(segment)*WindowFrames
}

// Normalize converts one raw 8-bit frame into a Frame scaled to [0,1].
func Normalize(raw []byte) (Frame, error) {
	if len(raw) != FrameValues {
		return nil, fmt.Errorf("raw frame has %d bytes, want %d", len(raw), FrameValues)
	}
	f := make(Frame, FrameValues)
	for i, b := range raw {
		f[i] = float32(b) / 255
	}
	return f, nil
}
