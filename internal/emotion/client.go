// Package emotion talks to the face model server and stores the best face
// crop per channel and label.
package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"

	"thirdcoast.systems/youmood/internal/domain"
	"thirdcoast.systems/youmood/internal/resilience"
)

// MinFaceSize is the smallest crop side, in pixels, worth classifying.
const MinFaceSize = 10

// Box is a detected face in frame coordinates. Max bounds are exclusive.
type Box struct {
	XMin int `json:"xmin"`
	YMin int `json:"ymin"`
	XMax int `json:"xmax"`
	YMax int `json:"ymax"`
}

func (b Box) Area() int { return (b.XMax - b.XMin) * (b.YMax - b.YMin) }

func (b Box) Rect() image.Rectangle { return image.Rect(b.XMin, b.YMin, b.XMax, b.YMax) }

type detectResponse struct {
	Faces []Box `json:"faces"`
}

type classifyResponse struct {
	Label  string             `json:"label"`
	Scores map[string]float64 `json:"scores"`
}

// StatusError is returned for any non-200 response.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("emotion: %s: expected status 200 instead of %d: %s", e.Path, e.StatusCode, e.Body)
}

// Client calls a model server exposing POST /detect and POST /classify, both
// taking a JPEG body.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// FindFace returns the crop of the largest face in frame, or nil when there is
// no face or the largest one is smaller than MinFaceSize on either side.
func (c *Client) FindFace(ctx context.Context, frame image.Image) (image.Image, error) {
	var out detectResponse
	if err := c.post(ctx, "/detect", frame, &out); err != nil {
		return nil, err
	}
	if len(out.Faces) == 0 {
		return nil, nil
	}

	best := out.Faces[0]
	for _, f := range out.Faces[1:] {
		if f.Area() > best.Area() {
			best = f
		}
	}

	r := best.Rect().Intersect(frame.Bounds())
	if r.Dx() < MinFaceSize || r.Dy() < MinFaceSize {
		return nil, nil
	}
	return crop(frame, r), nil
}

// Classify returns the face's label and the top confidence score.
func (c *Client) Classify(ctx context.Context, face image.Image) (domain.Label, float64, error) {
	var out classifyResponse
	if err := c.post(ctx, "/classify", face, &out); err != nil {
		return "", 0, err
	}

	label, err := domain.ParseLabel(out.Label)
	if err != nil {
		return "", 0, fmt.Errorf("emotion: classify: %w", err)
	}
	var score float64
	for _, s := range out.Scores {
		score = max(score, s)
	}
	return label, score, nil
}

func (c *Client) post(ctx context.Context, path string, img image.Image, out any) error {
	var body bytes.Buffer
	if err := jpeg.Encode(&body, img, &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("emotion: encode jpeg: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return resilience.Mark(resilience.KindTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return resilience.Mark(resilience.KindTransient, &StatusError{
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(b)),
		})
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("emotion: decode %s response: %w", path, err)
	}
	return nil
}

// crop copies r out of img so the frame buffer can be reused.
func crop(img image.Image, r image.Rectangle) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
