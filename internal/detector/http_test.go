package detector

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/face-greeter/internal/facematch"
)

func solidImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: 120, G: 90, B: 60, A: 255})
		}
	}
	return img
}

func TestHTTPDetector_DetectAndEncode(t *testing.T) {
	var gotContentType string
	var gotPartType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotContentType = r.Header.Get("Content-Type")

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotPartType = header.Header.Get("Content-Type")
		if _, err := io.ReadAll(file); err != nil {
			t.Errorf("read part: %v", err)
		}

		_ = json.NewEncoder(w).Encode(faceResponse{
			FacesCount: 2,
			Faces: []faceDetection{
				{FaceIndex: 0, Dim: 3, Embedding: []float32{0.1, 0.2, 0.3}, BBox: []float64{1, 2, 11, 12}, DetScore: 0.99},
				{FaceIndex: 1, Dim: 3, Embedding: []float32{0.4, 0.5, 0.6}, BBox: []float64{20, 20, 30, 30}, DetScore: 0.4},
			},
		})
	}))
	defer server.Close()

	d := NewHTTPDetector(server.URL+"/", time.Second)
	faces, err := d.DetectAndEncode(context.Background(), solidImage(40, 40))
	if err != nil {
		t.Fatalf("DetectAndEncode: %v", err)
	}

	if !strings.HasPrefix(gotContentType, "multipart/form-data") {
		t.Errorf("expected multipart request, got %q", gotContentType)
	}
	if gotPartType != "image/jpeg" {
		t.Errorf("expected image/jpeg part, got %q", gotPartType)
	}
	if len(faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(faces))
	}
	if faces[0].Box != (facematch.Box{X1: 1, Y1: 2, X2: 11, Y2: 12}) {
		t.Errorf("unexpected box %v", faces[0].Box)
	}
	if faces[1].Embedding[2] != 0.6 {
		t.Errorf("unexpected embedding %v", faces[1].Embedding)
	}
}

func TestHTTPDetector_MinScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(faceResponse{
			Faces: []faceDetection{
				{Embedding: []float32{1}, BBox: []float64{0, 0, 1, 1}, DetScore: 0.9},
				{Embedding: []float32{2}, BBox: []float64{0, 0, 1, 1}, DetScore: 0.3},
			},
		})
	}))
	defer server.Close()

	d := NewHTTPDetector(server.URL, time.Second, WithMinScore(0.5))
	faces, err := d.DetectBytes(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0x00})
	if err != nil {
		t.Fatalf("DetectBytes: %v", err)
	}
	if len(faces) != 1 || faces[0].Embedding[0] != 1 {
		t.Errorf("expected only the confident face, got %+v", faces)
	}
}

func TestHTTPDetector_NoFaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"faces_count":0,"faces":[]}`))
	}))
	defer server.Close()

	faces, err := NewHTTPDetector(server.URL, time.Second).DetectAndEncode(context.Background(), solidImage(8, 8))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("expected no faces, got %d", len(faces))
	}
}

func TestHTTPDetector_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model not loaded", http.StatusServiceUnavailable)
			},
			wantErr: "status 503",
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"faces": [`))
			},
			wantErr: "failed to parse response",
		},
		{
			name: "bad bbox",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"faces":[{"embedding":[0.1],"bbox":[1,2]}]}`))
			},
			wantErr: "invalid bbox",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := NewHTTPDetector(server.URL, time.Second).DetectAndEncode(context.Background(), solidImage(8, 8))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected %q in error, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestHTTPDetector_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := NewHTTPDetector(server.URL, 0).DetectAndEncode(ctx, solidImage(8, 8)); err == nil {
		t.Error("expected error from cancelled context")
	}
}
