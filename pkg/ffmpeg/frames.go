package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
)

// FrameReader yields the decoded frames of a video in order.
type FrameReader struct {
	Width  int
	Height int
	FPS    float64

	r     io.Reader
	buf   []byte
	count int64
	wait  func() error
	kill  func() error
	done  bool
}

// Frames probes path and starts decoding it to raw RGB frames.
func Frames(ctx context.Context, path string) (*FrameReader, error) {
	probe, err := Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if probe.VideoStreams == 0 {
		return nil, fmt.Errorf("ffmpeg: %s has no video stream", path)
	}
	width, height := probe.DisplaySize()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("ffmpeg: %s reports frame size %dx%d", path, width, height)
	}

	args := NewCommand(path, "pipe:1",
		LogLevel("error"),
		NoAudio,
		PixelFormat("rgb24"),
		Format("rawvideo"),
	).Build()

	proc, stdout, err := StartPipe(ctx, args)
	if err != nil {
		return nil, err
	}

	f := newFrameReader(bufio.NewReaderSize(stdout, 1<<20), width, height, probe.FPS)
	f.wait = proc.Wait
	f.kill = func() error {
		_ = stdout.Close()
		return proc.Kill()
	}
	return f, nil
}

func newFrameReader(r io.Reader, width, height int, fps float64) *FrameReader {
	return &FrameReader{
		Width:  width,
		Height: height,
		FPS:    fps,
		r:      r,
		buf:    make([]byte, width*height*3),
	}
}

// Next returns the next frame, or io.EOF once the video is exhausted and the
// decoder exited cleanly.
func (f *FrameReader) Next() (*image.RGBA, error) {
	if f.done {
		return nil, io.EOF
	}
	if _, err := io.ReadFull(f.r, f.buf); err != nil {
		f.done = true
		var waitErr error
		if f.wait != nil {
			waitErr = f.wait()
		}
		switch {
		case waitErr != nil:
			return nil, waitErr
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		default:
			return nil, fmt.Errorf("ffmpeg: truncated frame %d: %w", f.count, err)
		}
	}
	f.count++
	return toRGBA(f.buf, f.Width, f.Height), nil
}

// Close stops the decoder if it is still running.
func (f *FrameReader) Close() error {
	if f.done {
		return nil
	}
	f.done = true
	if f.kill != nil {
		_ = f.kill()
	}
	if f.wait != nil {
		_ = f.wait()
	}
	return nil
}

func toRGBA(rgb []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i+2 < len(rgb); i, j = i+3, j+4 {
		img.Pix[j] = rgb[i]
		img.Pix[j+1] = rgb[i+1]
		img.Pix[j+2] = rgb[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}
