// Package httpapi implements [classifier.Classifier] against the moodsense
// model server, which exposes one prediction endpoint per signal kind:
//
//   - POST /api/v1/predict_audio: multipart form with "userID" and an "audio"
//     WAV file.
//   - POST /api/v1/predict_text: JSON {"userID", "Term", "contentdata"}.
//   - POST /api/v1/predict_image: multipart form with "userID" and an "image"
//     file.
//
// Every endpoint answers with {"emotion": "..."}; the image endpoint may
// instead return raw model scores as {"scores": [7 floats]}. A reply without
// a label maps to [emotion.Unknown] and an undecodable reply to
// [emotion.ParseError]; neither is reported as an error.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/moodsense/pkg/classifier"
	"github.com/MrWong99/moodsense/pkg/emotion"
)

var _ classifier.Classifier = (*Client)(nil)

const (
	pathAudio = "/api/v1/predict_audio"
	pathText  = "/api/v1/predict_text"
	pathImage = "/api/v1/predict_image"

	defaultTimeout = 300 * time.Second
)

// Client talks to the model server. It is safe for concurrent use.
type Client struct {
	baseURL    string
	userID     string
	apiKey     string
	httpClient *http.Client
}

// Option is a functional option for [New].
type Option func(*Client)

// WithTimeout sets the per-request timeout. The default is 300s.
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

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// New returns a client for the model server at baseURL acting for userID.
func New(baseURL, userID string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("httpapi: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ClassifyAudio implements [classifier.Classifier].
func (c *Client) ClassifyAudio(ctx context.Context, wavPath string) (string, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return "", fmt.Errorf("httpapi: open clip: %w", err)
	}
	defer f.Close()

	body, contentType, err := multipartBody(c.userID, "audio", filepath.Base(wavPath), "audio/wav", f)
	if err != nil {
		return "", err
	}
	return c.post(ctx, pathAudio, contentType, body)
}

// ClassifyImage implements [classifier.Classifier].
func (c *Client) ClassifyImage(ctx context.Context, image []byte) (string, error) {
	ct := http.DetectContentType(image)
	body, contentType, err := multipartBody(c.userID, "image", "frame", ct, bytes.NewReader(image))
	if err != nil {
		return "", err
	}
	return c.post(ctx, pathImage, contentType, body)
}

// ClassifyText implements [classifier.Classifier].
func (c *Client) ClassifyText(ctx context.Context, title, digest string) (string, error) {
	payload, err := json.Marshal(struct {
		UserID      string `json:"userID"`
		Term        string `json:"Term"`
		ContentData string `json:"contentdata"`
	}{c.userID, title, digest})
	if err != nil {
		return "", fmt.Errorf("httpapi: encode text request: %w", err)
	}
	return c.post(ctx, pathText, "application/json", bytes.NewReader(payload))
}

// post sends body to path and decodes the label from the response.
func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return "", fmt.Errorf("httpapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("httpapi: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("httpapi: %s: server returned HTTP %d", path, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("httpapi: %s: read response: %w", path, err)
	}
	return decodeLabel(data), nil
}

// decodeLabel extracts the label from a prediction response body.
func decodeLabel(data []byte) string {
	var result struct {
		Emotion string    `json:"emotion"`
		Scores  []float32 `json:"scores"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return emotion.ParseError
	}
	if result.Emotion != "" {
		return result.Emotion
	}
	if len(result.Scores) > 0 {
		return emotion.LabelFromScores(result.Scores)
	}
	return emotion.Unknown
}

// multipartBody builds a form with the userID field and one file part.
func multipartBody(userID, field, filename, fileType string, r io.Reader) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("userID", userID); err != nil {
		return nil, "", fmt.Errorf("httpapi: write userID field: %w", err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", fileType)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("httpapi: create %s part: %w", field, err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, "", fmt.Errorf("httpapi: write %s data: %w", field, err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("httpapi: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
