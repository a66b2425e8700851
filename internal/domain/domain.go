// Package domain holds the channel and video types shared by the discovery
// loop, the processing pipeline and the work store.
package domain

import (
	"fmt"
	"time"
)

// Stage records how far a video got through the pipeline. A non-negative
// stage is the last step completed successfully; a negative stage is the step
// that failed and is terminal.
type Stage int

const (
	StageNone       Stage = 0
	StageDownloaded Stage = 1
	StageAnalyzed   Stage = 2
	StageSaved      Stage = 3
)

// Failed returns the terminal failure marker for an attempt at s.
func (s Stage) Failed() Stage {
	if s < 0 {
		return s
	}
	return -s
}

// IsFailed reports whether s is a terminal failure marker.
func (s Stage) IsFailed() bool { return s < 0 }

// Valid reports whether s is one of the seven known stages.
func (s Stage) Valid() bool {
	return s >= -StageSaved && s <= StageSaved
}

func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageDownloaded:
		return "downloaded"
	case StageAnalyzed:
		return "analyzed"
	case StageSaved:
		return "saved"
	case -StageDownloaded:
		return "download_failed"
	case -StageAnalyzed:
		return "analyze_failed"
	case -StageSaved:
		return "save_failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// ValidTransition reports whether a video may move from one stage to another.
// Videos only advance one step at a time (0→1→2→3) or abort a step (→ -k).
// An interrupted video restarts at step 1, so it may fail any step up to the
// one it was about to attempt (2 → -1 is allowed). Failed and saved stages
// never move again.
func ValidTransition(from, to Stage) bool {
	if from < 0 || from >= StageSaved {
		return false
	}
	if to == from+1 {
		return true
	}
	return to.IsFailed() && to >= (from + 1).Failed()
}

// Channel is a tracked content channel.
type Channel struct {
	ID           string
	Title        *string
	Synchronized *time.Time
	Scores       *Scores
}

// Video is a unit of work tracked by the store.
type Video struct {
	ID        string
	ChannelID string
	Found     time.Time
	Published time.Time
	Title     *string
	Stage     Stage
}

// TitleOrEmpty is a logging helper.
func (v *Video) TitleOrEmpty() string {
	if v == nil || v.Title == nil {
		return ""
	}
	return *v.Title
}

// DiscoveredVideo is a row produced by channel discovery.
type DiscoveredVideo struct {
	ID        string
	Published time.Time
	Title     *string
}

// ChannelSync is the result of one discovery call for a channel.
type ChannelSync struct {
	ChannelID string
	Title     *string
	Now       time.Time
	Videos    []DiscoveredVideo
}

// VideoResult is the outcome of a successful analysis, written when a video
// is saved.
type VideoResult struct {
	VideoID   string
	FPS       float64
	NumFrames int64
	Counts    LabelCounts
}

// VideoStats are the per-video frame statistics aggregation reads back.
type VideoStats struct {
	FPS       float64
	NumFrames int64
	Counts    LabelCounts
}
