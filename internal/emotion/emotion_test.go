package emotion

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thirdcoast.systems/youmood/internal/domain"
	"thirdcoast.systems/youmood/internal/resilience"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func modelServer(t *testing.T, detect any, classify any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		_, err := jpeg.Decode(r.Body)
		assert.NoError(t, err, "body is a jpeg")

		switch r.URL.Path {
		case "/detect":
			_ = json.NewEncoder(w).Encode(detect)
		case "/classify":
			_ = json.NewEncoder(w).Encode(classify)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFindFace_PicksLargest(t *testing.T) {
	srv := modelServer(t, map[string]any{"faces": []Box{
		{XMin: 0, YMin: 0, XMax: 20, YMax: 20},
		{XMin: 30, YMin: 10, XMax: 70, YMax: 60},
	}}, nil)

	face, err := NewClient(srv.URL, 0).FindFace(context.Background(), solid(100, 80, color.White))
	require.NoError(t, err)
	require.NotNil(t, face)
	assert.Equal(t, 40, face.Bounds().Dx())
	assert.Equal(t, 50, face.Bounds().Dy())
}

func TestFindFace_RejectsSmallCrops(t *testing.T) {
	tests := []struct {
		name  string
		faces []Box
	}{
		{"none", nil},
		{"too narrow", []Box{{XMin: 0, YMin: 0, XMax: 9, YMax: 40}}},
		{"too short", []Box{{XMin: 0, YMin: 0, XMax: 40, YMax: 9}}},
		{"clipped by frame", []Box{{XMin: 95, YMin: 0, XMax: 140, YMax: 40}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := modelServer(t, map[string]any{"faces": tt.faces}, nil)
			face, err := NewClient(srv.URL, 0).FindFace(context.Background(), solid(100, 80, color.White))
			require.NoError(t, err)
			assert.Nil(t, face)
		})
	}
}

func TestFindFace_ExactlyMinimumSize(t *testing.T) {
	srv := modelServer(t, map[string]any{"faces": []Box{{XMin: 5, YMin: 5, XMax: 15, YMax: 15}}}, nil)
	face, err := NewClient(srv.URL, 0).FindFace(context.Background(), solid(100, 80, color.White))
	require.NoError(t, err)
	require.NotNil(t, face)
	assert.Equal(t, MinFaceSize, face.Bounds().Dx())
}

func TestClassify(t *testing.T) {
	srv := modelServer(t, nil, map[string]any{
		"label":  "Happiness",
		"scores": map[string]float64{"Happiness": 0.81, "Neutral": 0.12, "Sadness": 0.07},
	})

	label, score, err := NewClient(srv.URL+"/", 0).Classify(context.Background(), solid(20, 20, color.Black))
	require.NoError(t, err)
	assert.Equal(t, domain.LabelHappiness, label)
	assert.InDelta(t, 0.81, score, 1e-9)
}

func TestClassify_UnknownLabel(t *testing.T) {
	srv := modelServer(t, nil, map[string]any{"label": "Boredom"})
	_, _, err := NewClient(srv.URL, 0).Classify(context.Background(), solid(20, 20, color.Black))
	require.Error(t, err)
}

func TestClient_Non200IsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 0).FindFace(context.Background(), solid(10, 10, color.White))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "/detect", se.Path)
	assert.Equal(t, resilience.KindTransient, resilience.KindOf(err))
}

func TestDiskFaceStore_Save(t *testing.T) {
	root := t.TempDir()
	s := NewDiskFaceStore(root)

	require.NoError(t, s.Save("UC1", domain.LabelHappiness, solid(12, 12, color.White)))
	path := filepath.Join(root, "UC1", "happy.jpg")
	assert.Equal(t, path, s.Path("UC1", domain.LabelHappiness))

	// Overwrite with a different size.
	require.NoError(t, s.Save("UC1", domain.LabelHappiness, solid(30, 20, color.Black)))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Width)

	entries, err := os.ReadDir(filepath.Join(root, "UC1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestDiskFaceStore_RejectsBadInput(t *testing.T) {
	s := NewDiskFaceStore(t.TempDir())
	require.Error(t, s.Save("UC1", domain.Label("Boredom"), solid(12, 12, color.White)))
	require.Error(t, s.Save("../escape", domain.LabelAnger, solid(12, 12, color.White)))
	require.Error(t, s.Save("", domain.LabelAnger, solid(12, 12, color.White)))
}
