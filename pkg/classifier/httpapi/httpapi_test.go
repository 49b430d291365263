package httpapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/moodsense/pkg/audio/wav"
	"github.com/MrWong99/moodsense/pkg/classifier/httpapi"
	"github.com/MrWong99/moodsense/pkg/emotion"
)

// ---- helpers ----------------------------------------------------------------

// newMockServer serves path with a fixed raw JSON body and records the
// request count.
func newMockServer(t *testing.T, path, body string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != path {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func mustClient(t *testing.T, baseURL string) *httpapi.Client {
	t.Helper()
	c, err := httpapi.New(baseURL, "user-1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Chunk_test.wav")
	if err := os.WriteFile(path, wav.Encode(make([]byte, 3200), 16000, 1), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyBaseURL(t *testing.T) {
	if _, err := httpapi.New("", "u"); err == nil {
		t.Fatal("expected error for empty baseURL")
	}
}

// ---- audio ------------------------------------------------------------------

func TestClassifyAudio_SendsMultipart(t *testing.T) {
	var gotUser, gotType string
	var gotLen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/predict_audio" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotUser = r.FormValue("userID")
		f, hdr, err := r.FormFile("audio")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		gotLen = len(data)
		gotType = hdr.Header.Get("Content-Type")
		_ = json.NewEncoder(w).Encode(map[string]string{"emotion": "Sad"})
	}))
	defer srv.Close()

	label, err := mustClient(t, srv.URL).ClassifyAudio(context.Background(), writeClip(t))
	if err != nil {
		t.Fatalf("ClassifyAudio: %v", err)
	}
	if label != "Sad" {
		t.Errorf("label = %q, want Sad", label)
	}
	if gotUser != "user-1" {
		t.Errorf("userID = %q, want user-1", gotUser)
	}
	if gotType != "audio/wav" {
		t.Errorf("part Content-Type = %q, want audio/wav", gotType)
	}
	if gotLen != wav.HeaderSize+3200 {
		t.Errorf("uploaded %d bytes, want %d", gotLen, wav.HeaderSize+3200)
	}
}

func TestClassifyAudio_MissingFile(t *testing.T) {
	c := mustClient(t, "http://127.0.0.1:1")
	if _, err := c.ClassifyAudio(context.Background(), "/does/not/exist.wav"); err == nil {
		t.Fatal("expected error for missing clip")
	}
}

// ---- text -------------------------------------------------------------------

func TestClassifyText_SendsJSON(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/predict_text" || r.Header.Get("Content-Type") != "application/json" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"emotion":"joy"}`)
	}))
	defer srv.Close()

	label, err := mustClient(t, srv.URL).ClassifyText(context.Background(), "Title", "Some digest")
	if err != nil {
		t.Fatalf("ClassifyText: %v", err)
	}
	if label != "joy" {
		t.Errorf("label = %q, want joy (text path is open vocabulary)", label)
	}
	want := map[string]string{"userID": "user-1", "Term": "Title", "contentdata": "Some digest"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("request[%q] = %q, want %q", k, got[k], v)
		}
	}
}

// ---- response decoding ------------------------------------------------------

func TestClassify_ResponseSentinels(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"label", `{"emotion":"Happy"}`, "Happy"},
		{"missing label", `{}`, emotion.Unknown},
		{"malformed", `not json`, emotion.ParseError},
		{"scores", `{"scores":[0,0,0,0,0,0.9,0.1]}`, emotion.Surprise},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newMockServer(t, "/api/v1/predict_image", tt.body, nil)
			label, err := mustClient(t, srv.URL).ClassifyImage(context.Background(), []byte("\xff\xd8\xff\xe0fakejpeg"))
			if err != nil {
				t.Fatalf("ClassifyImage: %v", err)
			}
			if label != tt.want {
				t.Errorf("label = %q, want %q", label, tt.want)
			}
		})
	}
}

func TestClassify_HTTPErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := mustClient(t, srv.URL).ClassifyText(context.Background(), "t", "d")
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("err = %v, want HTTP 500 error", err)
	}
}

func TestClassify_BearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{"emotion":"Neutral"}`)
	}))
	defer srv.Close()

	c, err := httpapi.New(srv.URL+"/", "u", httpapi.WithAPIKey("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.ClassifyText(context.Background(), "t", "d"); err != nil {
		t.Fatal(err)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q, want Bearer secret", auth)
	}
}
