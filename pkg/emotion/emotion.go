// Package emotion defines the observation model shared by every producer and
// the aggregator: the signal [Source], the canonical emotion labels, and the
// immutable [Observation] value that carries one classified signal.
package emotion

import "time"

// Source identifies the producer that emitted an [Observation].
type Source int

const (
	// SourceMotion is the step-counter / activity producer.
	SourceMotion Source = iota

	// SourceAudio is the audio playback segmenter.
	SourceAudio

	// SourceText is the web content watcher.
	SourceText

	// SourceVideo is the one-shot camera capture path.
	SourceVideo
)

// String returns the lowercase name of the source.
func (s Source) String() string {
	switch s {
	case SourceMotion:
		return "motion"
	case SourceAudio:
		return "audio"
	case SourceText:
		return "text"
	case SourceVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Remote collection names, one per signal type.
const (
	CollectionText     = "text_emotions"
	CollectionAudio    = "audio_emotions"
	CollectionVideo    = "Video_emotions"
	CollectionActivity = "activityData"
	CollectionStages   = "bipolar_stages"
)

// Collection returns the remote collection that records observations of s.
func (s Source) Collection() string {
	switch s {
	case SourceAudio:
		return CollectionAudio
	case SourceText:
		return CollectionText
	case SourceVideo:
		return CollectionVideo
	default:
		return CollectionActivity
	}
}

// MotionSample is the payload of a [SourceMotion] observation.
type MotionSample struct {
	// Steps is the step count since the tracker's baseline. Negative means no
	// counter reading has been seen yet.
	Steps int

	TimeMovingSeconds     int
	TimeStationarySeconds int

	// LastMovement is the time of the most recent tick that saw a step
	// increase. Zero when no movement has been observed.
	LastMovement time.Time
}

// Observation is a single producer's classified signal. Observations are
// values; they must not be mutated after creation.
type Observation struct {
	Source    Source
	Label     string
	Timestamp time.Time

	// Motion is set only for [SourceMotion] observations.
	Motion *MotionSample
}

// New returns an emotion-bearing observation stamped with ts.
func New(src Source, label string, ts time.Time) Observation {
	return Observation{Source: src, Label: label, Timestamp: ts}
}

// NewMotion returns a [SourceMotion] observation carrying a copy of sample.
func NewMotion(sample MotionSample, ts time.Time) Observation {
	s := sample
	return Observation{Source: SourceMotion, Timestamp: ts, Motion: &s}
}
