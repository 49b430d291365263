package recommend_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/moodsense/pkg/recommend"
)

func TestActivityLevel(t *testing.T) {
	tests := []struct {
		steps int
		want  string
	}{
		{-1, recommend.ActivityLow},
		{0, recommend.ActivityLow},
		{1999, recommend.ActivityLow},
		{2000, recommend.ActivityAverage},
		{6999, recommend.ActivityAverage},
		{7000, recommend.ActivityHigh},
	}
	for _, tt := range tests {
		if got := recommend.ActivityLevel(tt.steps); got != tt.want {
			t.Errorf("ActivityLevel(%d) = %q, want %q", tt.steps, got, tt.want)
		}
	}
}

func TestRecommend(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/recommendations/" {
			http.Error(w, "wrong route", http.StatusNotFound)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"message":"ok","recommendations":[` +
			`{"activity":"Walk","description":"Go outside","duration":20,"image_url":"http://img/walk.png"}]}`))
	}))
	defer srv.Close()

	c, err := recommend.New(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := c.Recommend(context.Background(), recommend.Request{Mood: "Sad", Age: 31, Gender: "female"})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if resp.Message != "ok" || len(resp.Recommendations) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	rec := resp.Recommendations[0]
	if rec.Activity != "Walk" || rec.Duration != 20 || rec.ImageURL != "http://img/walk.png" {
		t.Errorf("recommendation = %+v", rec)
	}
	if got["stage"] != recommend.StageEuthymia {
		t.Errorf("stage = %v, want default Euthymia", got["stage"])
	}
	if got["mood"] != "Sad" || got["age"] != float64(31) || got["gender"] != "female" {
		t.Errorf("payload = %v", got)
	}
}

func TestRecommend_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := recommend.New(srv.URL)
	if _, err := c.Recommend(context.Background(), recommend.Request{Mood: "Happy"}); err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestPredictStage(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    string
		wantErr error
	}{
		{name: "bipolar_stage key", reply: `{"bipolar_stage":"Mania"}`, want: "Mania"},
		{name: "stage key", reply: `{"stage":"Depression"}`, want: "Depression"},
		{name: "no stage", reply: `{}`, wantErr: recommend.ErrNoStage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got recommend.StageRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v1/predict_bipolar_stage" {
					http.NotFound(w, r)
					return
				}
				_ = json.NewDecoder(r.Body).Decode(&got)
				_, _ = w.Write([]byte(tc.reply))
			}))
			defer srv.Close()

			c, _ := recommend.New(srv.URL)
			stage, err := c.PredictStage(context.Background(), recommend.StageRequest{
				UserID:       "u1",
				VideoEmotion: "happy",
				TextEmotion:  "Unknown",
				AudioEmotion: "Sad",
				Activity:     recommend.ActivityAverage,
			})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("PredictStage: %v", err)
			}
			if stage != tc.want {
				t.Errorf("stage = %q, want %q", stage, tc.want)
			}
			want := recommend.StageRequest{
				UserID:       "u1",
				VideoEmotion: "Happy",
				TextEmotion:  "Neutral",
				AudioEmotion: "Sad",
				Activity:     "Average",
			}
			if got != want {
				t.Errorf("payload = %+v, want %+v", got, want)
			}
		})
	}
}

func TestIsStage(t *testing.T) {
	if !recommend.IsStage("Mixed Episodes") || recommend.IsStage("Calm") {
		t.Fatal("IsStage mismatch")
	}
}

func TestNew_EmptyBaseURL(t *testing.T) {
	if _, err := recommend.New(""); err == nil {
		t.Fatal("expected error")
	}
}
