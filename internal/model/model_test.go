package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gwlsn/shotclock/internal/ffmpeg/clip"
)

func testSegment(index, frames int) *clip.Segment {
	seg := &clip.Segment{Index: index, Sampled: frames}
	for i := 0; i < frames; i++ {
		f := make(clip.Frame, clip.FrameValues)
		for j := range f {
			f[j] = float32(j%256) / 255
		}
		seg.Frames = append(seg.Frames, f)
	}
	return seg
}

// fakeServing mimics the TensorFlow Serving REST surface for one model.
type fakeServing struct {
	states    []versionStatus
	score     float64
	predicts  atomic.Int32
	lastShape []int
	failWith  int
}

func (f *fakeServing) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models/shots", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(statusResponse{ModelVersionStatus: f.states})
	})
	mux.HandleFunc("POST /v1/models/{rest}", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":predict") {
			http.NotFound(w, r)
			return
		}
		f.predicts.Add(1)
		if f.failWith != 0 {
			io.Copy(io.Discard, r.Body)
			w.WriteHeader(f.failWith)
			w.Write([]byte(`{"error": "Input to reshape is a tensor with 3061800 values"}`))
			return
		}

		var body struct {
			Instances [][][][][]float64 `json:"instances"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("predict body is not valid JSON: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		inst := body.Instances
		f.lastShape = []int{len(inst), len(inst[0]), len(inst[0][0]), len(inst[0][0][0]), len(inst[0][0][0][0])}
		json.NewEncoder(w).Encode(map[string]any{"predictions": [][]float64{{f.score}}})
	})
	return mux
}

func available(versions ...string) []versionStatus {
	var out []versionStatus
	for _, v := range versions {
		out = append(out, versionStatus{Version: v, State: "AVAILABLE"})
	}
	return out
}

func TestLoadPicksHighestAvailableVersion(t *testing.T) {
	fake := &fakeServing{states: append(available("1", "3"), versionStatus{Version: "4", State: "LOADING"})}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	m, err := Load(context.Background(), Options{BaseURL: srv.URL + "/", Name: "shots"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Version() != 3 {
		t.Errorf("expected version 3, got %d", m.Version())
	}
	if m.Name() != "shots" {
		t.Errorf("expected name shots, got %s", m.Name())
	}
	if err := m.Ready(context.Background()); err != nil {
		t.Errorf("Ready failed: %v", err)
	}
}

func TestLoadUnavailable(t *testing.T) {
	fake := &fakeServing{states: []versionStatus{{Version: "1", State: "LOADING"}}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	_, err := Load(context.Background(), Options{BaseURL: srv.URL, Name: "shots"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestLoadUnknownModel(t *testing.T) {
	fake := &fakeServing{states: available("1")}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	_, err := Load(context.Background(), Options{BaseURL: srv.URL, Name: "other"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for unknown model, got %v", err)
	}
}

func TestLoadServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Load(context.Background(), Options{BaseURL: url, Name: "shots", Timeout: time.Second})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestLoadRequiresURLAndName(t *testing.T) {
	if _, err := Load(context.Background(), Options{Name: "shots"}); err == nil {
		t.Error("expected error without url")
	}
	if _, err := Load(context.Background(), Options{BaseURL: "http://localhost:8501"}); err == nil {
		t.Error("expected error without name")
	}
}

func TestScore(t *testing.T) {
	fake := &fakeServing{states: available("1"), score: 0.83}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	m, err := Load(context.Background(), Options{BaseURL: srv.URL, Name: "shots"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	score, err := m.Score(context.Background(), testSegment(0, 2))
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if score != 0.83 {
		t.Errorf("expected 0.83, got %v", score)
	}

	want := []int{1, 2, clip.FrameHeight, clip.FrameWidth, clip.Channels}
	for i := range want {
		if fake.lastShape[i] != want[i] {
			t.Fatalf("instance shape %v, want %v", fake.lastShape, want)
		}
	}
}

func TestScorePinnedVersionURL(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(statusResponse{ModelVersionStatus: available("2")})
			return
		}
		w.Write([]byte(`{"predictions": [[0.1]]}`))
	}))
	defer srv.Close()

	m, err := Load(context.Background(), Options{BaseURL: srv.URL, Name: "shots", Version: 2})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := m.Score(context.Background(), testSegment(0, 1)); err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	want := []string{"GET /v1/models/shots/versions/2", "POST /v1/models/shots/versions/2:predict"}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("unexpected requests %v", paths)
	}
}

func TestScoreServerError(t *testing.T) {
	fake := &fakeServing{states: available("1"), failWith: http.StatusBadRequest}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	m, err := Load(context.Background(), Options{BaseURL: srv.URL, Name: "shots"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	_, err = m.Score(context.Background(), testSegment(4, 1))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "reshape") || !strings.Contains(err.Error(), "segment 4") {
		t.Errorf("error should carry server message and segment: %v", err)
	}
	if fake.predicts.Load() != 1 {
		t.Errorf("expected exactly one attempt (no retries), got %d", fake.predicts.Load())
	}
}

func TestScoreEmptySegment(t *testing.T) {
	m := &Model{name: "shots", base: "http://127.0.0.1:0/v1/models/shots", client: http.DefaultClient}
	if _, err := m.Score(context.Background(), &clip.Segment{Index: 1}); err == nil {
		t.Error("expected error for empty segment")
	}
}

func TestParsePrediction(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    float64
		wantErr bool
	}{
		{"single", 200, `{"predictions": [[0.42]]}`, 0.42, false},
		{"takes first element", 200, `{"predictions": [[0.9, 0.1]]}`, 0.9, false},
		{"empty", 200, `{"predictions": []}`, 0, true},
		{"empty inner", 200, `{"predictions": [[]]}`, 0, true},
		{"error field", 400, `{"error": "bad shape"}`, 0, true},
		{"non json error", 503, `upstream down`, 0, true},
		{"non json ok", 200, `<html>`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePrediction(tt.status, []byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWriteInstances(t *testing.T) {
	seg := testSegment(0, 1)

	var buf bytes.Buffer
	if err := writeInstances(&buf, seg); err != nil {
		t.Fatalf("writeInstances failed: %v", err)
	}

	var decoded struct {
		Instances [][][][][]float32 `json:"instances"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	frame := decoded.Instances[0][0]
	if len(frame) != clip.FrameHeight || len(frame[0]) != clip.FrameWidth || len(frame[0][0]) != clip.Channels {
		t.Fatalf("unexpected frame shape %dx%dx%d", len(frame), len(frame[0]), len(frame[0][0]))
	}
	// Values survive the float32 round trip exactly
	if got, want := frame[1][2][0], seg.Frames[0].At(1, 2, 0); got != want {
		t.Errorf("value at (1,2,0) = %v, want %v", got, want)
	}
}

func TestWriteInstancesRejectsMalformedFrame(t *testing.T) {
	seg := &clip.Segment{Frames: []clip.Frame{make(clip.Frame, 10)}}
	if err := writeInstances(&bytes.Buffer{}, seg); err == nil {
		t.Error("expected error for malformed frame")
	}
}
