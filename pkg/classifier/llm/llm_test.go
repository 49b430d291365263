package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/moodsense/pkg/classifier"
	"github.com/MrWong99/moodsense/pkg/emotion"
)

type fakeCompleter struct {
	reply      string
	err        error
	lastSystem string
	lastUser   string
}

func (f *fakeCompleter) complete(_ context.Context, system, user string) (string, error) {
	f.lastSystem, f.lastUser = system, user
	return f.reply, f.err
}

func TestClassifyText_Canonicalizes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		reply string
		want  string
	}{
		{"Happy", emotion.Happy},
		{"  sad.\n", emotion.Sad},
		{"Fearful, mostly", emotion.Fear},
		{"", emotion.Unknown},
	}
	for _, tc := range tests {
		t.Run(tc.reply, func(t *testing.T) {
			t.Parallel()
			c := &Classifier{name: "fake", backend: &fakeCompleter{reply: tc.reply}}
			got, err := c.ClassifyText(context.Background(), "t", "d")
			if err != nil {
				t.Fatalf("ClassifyText: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClassifyText_PromptCarriesTitleAndDigest(t *testing.T) {
	t.Parallel()
	f := &fakeCompleter{reply: "Neutral"}
	c := &Classifier{name: "fake", backend: f}
	long := strings.Repeat("x", maxPromptRunes+50)
	if _, err := c.ClassifyText(context.Background(), "Breaking", long); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(f.lastUser, "Title: Breaking") {
		t.Errorf("user prompt missing title: %q", f.lastUser[:40])
	}
	if n := strings.Count(f.lastUser, "x"); n != maxPromptRunes {
		t.Errorf("digest runes = %d, want %d", n, maxPromptRunes)
	}
	for _, l := range emotion.Labels {
		if !strings.Contains(f.lastSystem, l) {
			t.Errorf("system prompt missing label %q", l)
		}
	}
}

func TestClassifyText_BackendError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	c := &Classifier{name: "fake", backend: &fakeCompleter{err: boom}}
	if _, err := c.ClassifyText(context.Background(), "t", "d"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapping boom", err)
	}
}

func TestUnsupportedModalities(t *testing.T) {
	t.Parallel()
	c := &Classifier{name: "fake", backend: &fakeCompleter{}}
	if _, err := c.ClassifyImage(context.Background(), []byte{1}); !errors.Is(err, classifier.ErrUnsupported) {
		t.Errorf("ClassifyImage err = %v", err)
	}
	if _, err := c.ClassifyAudio(context.Background(), "a.wav"); !errors.Is(err, classifier.ErrUnsupported) {
		t.Errorf("ClassifyAudio err = %v", err)
	}
}

func TestNewOpenAI_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := NewOpenAI("", "gpt-4o-mini"); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestNewAnyLLM_UnknownProvider(t *testing.T) {
	t.Parallel()
	if _, err := NewAnyLLM("nope", "m"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, err := NewAnyLLM("ollama", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestOpenAI_AgainstFakeEndpoint(t *testing.T) {
	t.Parallel()
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":0,"model":"test-model",` +
			`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"angry"}}]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAI("sk-test", "test-model", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.ClassifyText(context.Background(), "Outrage", "people are furious")
	if err != nil {
		t.Fatalf("ClassifyText: %v", err)
	}
	if got != emotion.Angry {
		t.Errorf("label = %q, want %q", got, emotion.Angry)
	}
	if gotModel != "test-model" {
		t.Errorf("model = %q", gotModel)
	}
	if c.Name() != "openai" {
		t.Errorf("Name = %q", c.Name())
	}
}
