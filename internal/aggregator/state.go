package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrWong99/moodsense/pkg/emotion"
	"github.com/MrWong99/moodsense/pkg/store"
)

// Local KV keys.
const (
	KeySteps          = "steps"
	KeyTimeMoving     = "time_moving"
	KeyTimeStationary = "time_stationary"
	KeyLastMovement   = "last_movement"
	KeyTextEmotion    = "text_emotion"
	KeyAudioEmotion   = "audio_emotion"
	KeyVideoEmotion   = "video_emotion"
)

// neverMoved is the stored form of a zero LastMovement.
const neverMoved = "0"

// CombinedState is the merged view of every producer.
type CombinedState struct {
	StepCount             int       `json:"steps"`
	TimeMovingSeconds     int       `json:"time_moving"`
	TimeStationarySeconds int       `json:"time_stationary"`
	LastMovement          time.Time `json:"last_movement"`
	Isolated              bool      `json:"isolated"`
	TextEmotion           string    `json:"text_emotion"`
	AudioEmotion          string    `json:"audio_emotion"`
	VideoEmotion          string    `json:"video_emotion"`
}

// DefaultState returns the state before any observation.
func DefaultState() CombinedState {
	return CombinedState{
		StepCount:    -1,
		TextEmotion:  emotion.Unknown,
		AudioEmotion: emotion.Unknown,
		VideoEmotion: emotion.Unknown,
	}
}

// IsIsolated reports whether no movement was seen within after. A state that
// never moved is isolated.
func (s CombinedState) IsIsolated(now time.Time, after time.Duration) bool {
	if s.LastMovement.IsZero() {
		return true
	}
	return now.Sub(s.LastMovement) > after
}

// DisplayLine renders the one-line status summary.
func (s CombinedState) DisplayLine() string {
	steps := "N/A"
	if s.StepCount >= 0 {
		steps = strconv.Itoa(s.StepCount)
	}
	return fmt.Sprintf("Steps: %s | Text Emotion: %s | Audio Emotion: %s", steps, s.TextEmotion, s.AudioEmotion)
}

// apply folds obs into s. Only the fields owned by the observation's source
// change.
func (s CombinedState) apply(obs emotion.Observation) CombinedState {
	label := obs.Label
	if label == "" {
		label = emotion.Unknown
	}
	switch obs.Source {
	case emotion.SourceMotion:
		if m := obs.Motion; m != nil {
			s.StepCount = m.Steps
			s.TimeMovingSeconds = m.TimeMovingSeconds
			s.TimeStationarySeconds = m.TimeStationarySeconds
			s.LastMovement = m.LastMovement
		}
	case emotion.SourceText:
		s.TextEmotion = label
	case emotion.SourceAudio:
		s.AudioEmotion = label
	case emotion.SourceVideo:
		s.VideoEmotion = label
	}
	return s
}

// save writes every field of s to kv.
func save(ctx context.Context, kv store.KV, s CombinedState) error {
	last := neverMoved
	if !s.LastMovement.IsZero() {
		last = s.LastMovement.UTC().Format(time.RFC3339)
	}
	pairs := [][2]string{
		{KeySteps, strconv.Itoa(s.StepCount)},
		{KeyTimeMoving, strconv.Itoa(s.TimeMovingSeconds)},
		{KeyTimeStationary, strconv.Itoa(s.TimeStationarySeconds)},
		{KeyLastMovement, last},
		{KeyTextEmotion, s.TextEmotion},
		{KeyAudioEmotion, s.AudioEmotion},
		{KeyVideoEmotion, s.VideoEmotion},
	}
	var errs []error
	for _, p := range pairs {
		if err := kv.Put(ctx, p[0], p[1]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p[0], err))
		}
	}
	return errors.Join(errs...)
}

// load reads a state from kv. Missing or malformed keys keep their defaults.
func load(ctx context.Context, kv store.KV) (CombinedState, error) {
	s := DefaultState()
	var errs []error
	ints := []struct {
		key string
		dst *int
	}{
		{KeySteps, &s.StepCount},
		{KeyTimeMoving, &s.TimeMovingSeconds},
		{KeyTimeStationary, &s.TimeStationarySeconds},
	}
	for _, f := range ints {
		v, err := store.GetInt(ctx, kv, f.key, *f.dst)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f.dst = v
	}

	if v, err := kv.Get(ctx, KeyLastMovement, neverMoved); err != nil {
		errs = append(errs, err)
	} else if v != neverMoved {
		if t, perr := time.Parse(time.RFC3339, v); perr == nil {
			s.LastMovement = t
		}
	}

	labels := []struct {
		key string
		dst *string
	}{
		{KeyTextEmotion, &s.TextEmotion},
		{KeyAudioEmotion, &s.AudioEmotion},
		{KeyVideoEmotion, &s.VideoEmotion},
	}
	for _, f := range labels {
		v, err := kv.Get(ctx, f.key, emotion.Unknown)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if v != "" {
			*f.dst = v
		}
	}
	return s, errors.Join(errs...)
}
