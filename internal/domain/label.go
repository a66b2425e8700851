package domain

import (
	"fmt"
	"strings"
)

// Label is a discrete emotion as reported by the classifier.
type Label string

const (
	LabelAnger     Label = "Anger"
	LabelDisgust   Label = "Disgust"
	LabelFear      Label = "Fear"
	LabelHappiness Label = "Happiness"
	LabelNeutral   Label = "Neutral"
	LabelSadness   Label = "Sadness"
	LabelSurprise  Label = "Surprise"
	LabelContempt  Label = "Contempt"
)

// Labels lists every label in column order.
var Labels = []Label{
	LabelAnger,
	LabelDisgust,
	LabelFear,
	LabelHappiness,
	LabelNeutral,
	LabelSadness,
	LabelSurprise,
	LabelContempt,
}

var labelColumns = map[Label]string{
	LabelAnger:     "angry",
	LabelDisgust:   "disgust",
	LabelFear:      "fear",
	LabelHappiness: "happy",
	LabelNeutral:   "neutral",
	LabelSadness:   "sad",
	LabelSurprise:  "surprise",
	LabelContempt:  "contempt",
}

// Column returns the database column (and image file stem) for the label.
func (l Label) Column() string {
	return labelColumns[l]
}

// Valid reports whether l is a known label.
func (l Label) Valid() bool {
	_, ok := labelColumns[l]
	return ok
}

// ParseLabel accepts either a classifier label ("Happiness") or a column
// name ("happy"), case-insensitively.
func ParseLabel(s string) (Label, error) {
	s = strings.TrimSpace(s)
	for _, l := range Labels {
		if strings.EqualFold(s, string(l)) || strings.EqualFold(s, l.Column()) {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown emotion label %q", s)
}

// LabelCounts is the number of sampled frames per label.
type LabelCounts [8]int64

func labelIndex(l Label) int {
	for i, x := range Labels {
		if x == l {
			return i
		}
	}
	return -1
}

// Add increments the count for l. Unknown labels are ignored.
func (c *LabelCounts) Add(l Label) {
	if i := labelIndex(l); i >= 0 {
		c[i]++
	}
}

// Get returns the count for l.
func (c LabelCounts) Get(l Label) int64 {
	if i := labelIndex(l); i >= 0 {
		return c[i]
	}
	return 0
}

// Tally counts a per-frame label sequence.
func Tally(labels []Label) LabelCounts {
	var c LabelCounts
	for _, l := range labels {
		c.Add(l)
	}
	return c
}

// Scores are a channel's per-label detection rates (detections per second).
type Scores [8]float64

// Get returns the score for l.
func (s Scores) Get(l Label) float64 {
	if i := labelIndex(l); i >= 0 {
		return s[i]
	}
	return 0
}

// Exceeds reports whether any score lies outside [0,1]. The pooled rate can
// exceed 1 when sampled frames do not line up with elapsed seconds.
func (s Scores) Exceeds() bool {
	for _, v := range s {
		if v < 0 || v > 1 {
			return true
		}
	}
	return false
}
