package clip

import "fmt"

// Policy decides what happens to a segment with fewer than SegmentFrames frames.
// Frames only go missing at the tail of a video, so a short segment is always
// the last one that has any frames.
type Policy string

const (
	// PolicyPad repeats the last sampled frame until the segment is full.
	// A segment with no frames at all ends sampling.
	PolicyPad Policy = "pad"
	// PolicySkip drops short segments and ends sampling at the first one.
	PolicySkip Policy = "skip"
	// PolicyReject fails sampling with ErrShortSegment.
	PolicyReject Policy = "reject"
)

// ParsePolicy returns the named policy, or PolicyPad for unknown names.
func ParsePolicy(name string) Policy {
	switch Policy(name) {
	case PolicySkip:
		return PolicySkip
	case PolicyReject:
		return PolicyReject
	}
	return PolicyPad
}

// apply enforces the policy on a segment. It returns keep=false when the
// segment must not be scored.
func (p Policy) apply(seg *Segment) (keep bool, err error) {
	if seg.Full() {
		return true, nil
	}

	switch p {
	case PolicyReject:
		return false, fmt.Errorf("%w: segment %d has %d of %d frames",
			ErrShortSegment, seg.Index, len(seg.Frames), SegmentFrames)
	case PolicySkip:
		return false, nil
	}

	if len(seg.Frames) == 0 {
		return false, nil
	}
	last := seg.Frames[len(seg.Frames)-1]
	for len(seg.Frames) < SegmentFrames {
		seg.Frames = append(seg.Frames, last)
	}
	return true, nil
}
