package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// ProbeResult contains media file metadata.
type ProbeResult struct {
	Width       int     // Coded width in pixels
	Height      int     // Coded height in pixels
	Rotation    int     // Display rotation in degrees
	FPS         float64 // Frames per second
	VideoCodec  string  // Video codec name (h264, vp9, etc.)
	PixelFormat string  // Pixel format (yuv420p, etc.)
	Frames      int64   // Frame count from the container, 0 when unknown

	Duration   float64 // Duration in seconds
	Size       int64   // File size in bytes
	FormatName string  // Container format (mp4, webm, mkv, etc.)

	VideoStreams int
	AudioStreams int
}

// DisplaySize returns the frame size after rotation is applied, which is
// what ffmpeg emits when decoding.
func (r *ProbeResult) DisplaySize() (width, height int) {
	switch r.Rotation {
	case 90, -90, 270, -270:
		return r.Height, r.Width
	default:
		return r.Width, r.Height
	}
}

// ffprobeOutput matches ffprobe JSON output structure.
type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
	} `json:"format"`
	Streams []struct {
		CodecType   string `json:"codec_type"`
		CodecName   string `json:"codec_name"`
		Width       int    `json:"width"`
		Height      int    `json:"height"`
		RFrameRate  string `json:"r_frame_rate"`
		PixelFormat string `json:"pix_fmt"`
		NbFrames    string `json:"nb_frames"`
		Tags        struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			Rotation int `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
}

// Probe runs ffprobe on a file and returns metadata.
func Probe(ctx context.Context, path string) (*ProbeResult, error) {
	args := []string{
		"-hide_banner",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe: %w: %s", err, stderr.String())
	}
	return parseProbe(stdout.Bytes())
}

func parseProbe(raw []byte) (*ProbeResult, error) {
	var output ffprobeOutput
	if err := json.Unmarshal(raw, &output); err != nil {
		return nil, fmt.Errorf("ffprobe: failed to parse output: %w", err)
	}

	result := &ProbeResult{FormatName: output.Format.FormatName}
	if output.Format.Duration != "" {
		result.Duration, _ = strconv.ParseFloat(output.Format.Duration, 64)
	}
	if output.Format.Size != "" {
		result.Size, _ = strconv.ParseInt(output.Format.Size, 10, 64)
	}

	for _, stream := range output.Streams {
		switch stream.CodecType {
		case "video":
			result.VideoStreams++
			// Only the first video stream is decoded.
			if result.VideoCodec != "" {
				continue
			}
			result.Width = stream.Width
			result.Height = stream.Height
			result.VideoCodec = stream.CodecName
			result.PixelFormat = stream.PixelFormat
			result.FPS = parseFrameRate(stream.RFrameRate)
			result.Frames, _ = strconv.ParseInt(stream.NbFrames, 10, 64)
			if stream.Tags.Rotate != "" {
				result.Rotation, _ = strconv.Atoi(stream.Tags.Rotate)
			}
			for _, sd := range stream.SideDataList {
				if sd.Rotation != 0 {
					result.Rotation = sd.Rotation
				}
			}
		case "audio":
			result.AudioStreams++
		}
	}

	return result, nil
}

// parseFrameRate parses ffprobe frame rate format (e.g., "30/1" or "30000/1001").
func parseFrameRate(rate string) float64 {
	var num, den int
	_, err := fmt.Sscanf(rate, "%d/%d", &num, &den)
	if err != nil || den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
