// Package recommend is the client for the recommendation service, which turns
// the user's current mood into suggested activities and predicts the mood
// disorder stage from the latest per-signal emotions.
package recommend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/moodsense/pkg/emotion"
)

// Stage names understood by the service.
const (
	StageEuthymia   = "Euthymia"
	StageHypomania  = "Hypomania"
	StageDepression = "Depression"
	StageMixed      = "Mixed Episodes"
	StageMania      = "Mania"
)

// Stages lists every valid stage.
var Stages = []string{StageEuthymia, StageHypomania, StageDepression, StageMixed, StageMania}

// Activity levels sent with stage predictions.
const (
	ActivityLow     = "Low"
	ActivityAverage = "Average"
	ActivityHigh    = "High"
)

const (
	pathRecommend = "/recommendations/"
	pathStage     = "/api/v1/predict_bipolar_stage"

	defaultTimeout = 30 * time.Second
)

// ErrNoStage is returned by [Client.PredictStage] when the reply carries no stage.
var ErrNoStage = errors.New("recommend: response carries no stage")

// ActivityLevel buckets a daily step count. A negative count (no step data)
// is treated as zero.
func ActivityLevel(steps int) string {
	switch {
	case steps < 2000:
		return ActivityLow
	case steps < 7000:
		return ActivityAverage
	default:
		return ActivityHigh
	}
}

// IsStage reports whether s is one of [Stages].
func IsStage(s string) bool {
	for _, st := range Stages {
		if st == s {
			return true
		}
	}
	return false
}

// Request asks for activity recommendations.
type Request struct {
	UserID string `json:"userID,omitempty"`
	Mood   string `json:"mood"`
	Stage  string `json:"stage"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
}

// Recommendation is one suggested activity.
type Recommendation struct {
	Activity    string `json:"activity"`
	Description string `json:"description"`
	Duration    int    `json:"duration"`
	ImageURL    string `json:"image_url"`
}

// Response is the reply to a [Request].
type Response struct {
	Message         string           `json:"message"`
	Recommendations []Recommendation `json:"recommendations"`
}

// StageRequest asks for a stage prediction. Emotions must be canonical labels;
// anything else is sent as Neutral because the service rejects unknown values.
type StageRequest struct {
	UserID       string `json:"userID"`
	VideoEmotion string `json:"video_emotion"`
	TextEmotion  string `json:"text_emotion"`
	AudioEmotion string `json:"audio_emotion"`
	Activity     string `json:"activity"`
}

// Client talks to the recommendation service. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for [New].
type Option func(*Client)

// WithTimeout sets the per-request timeout. The default is 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New returns a client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("recommend: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Recommend requests activity suggestions for req. An empty stage defaults to
// [StageEuthymia].
func (c *Client) Recommend(ctx context.Context, req Request) (Response, error) {
	if req.Stage == "" {
		req.Stage = StageEuthymia
	}
	var resp Response
	if err := c.postJSON(ctx, pathRecommend, req, &resp); err != nil {
		return Response{}, fmt.Errorf("recommend: recommendations: %w", err)
	}
	return resp, nil
}

// PredictStage asks the service for the user's current stage.
func (c *Client) PredictStage(ctx context.Context, req StageRequest) (string, error) {
	req.VideoEmotion = strictLabel(req.VideoEmotion)
	req.TextEmotion = strictLabel(req.TextEmotion)
	req.AudioEmotion = strictLabel(req.AudioEmotion)
	if req.Activity == "" {
		req.Activity = ActivityLow
	}

	var resp struct {
		BipolarStage string `json:"bipolar_stage"`
		Stage        string `json:"stage"`
	}
	if err := c.postJSON(ctx, pathStage, req, &resp); err != nil {
		return "", fmt.Errorf("recommend: predict stage: %w", err)
	}
	switch {
	case resp.BipolarStage != "":
		return resp.BipolarStage, nil
	case resp.Stage != "":
		return resp.Stage, nil
	default:
		return "", ErrNoStage
	}
}

func strictLabel(l string) string {
	l = emotion.Canonicalize(l)
	if !emotion.IsCanonical(l) {
		return emotion.Neutral
	}
	return l
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
