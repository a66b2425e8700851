// Package aggregate computes a channel's rolling emotion scores from the
// statistics of its recently saved videos.
package aggregate

import "thirdcoast.systems/youmood/internal/domain"

// Scores pools the given videos: for every label, the total number of frames
// carrying that label divided by the total analyzed duration in seconds
// (num_frames / fps). Videos without usable statistics are skipped. It
// returns ok=false when nothing qualified, in which case the caller must
// leave the stored scores untouched.
//
// Only one frame per second is classified while num_frames counts every
// decoded frame, so the result is a detection rate per second. It can exceed
// 1 when the sampled frames outnumber the elapsed seconds.
func Scores(videos []domain.VideoStats) (scores domain.Scores, ok bool) {
	var (
		seconds float64
		counts  domain.Scores
	)
	for _, v := range videos {
		if v.FPS <= 0 || v.NumFrames <= 0 {
			continue
		}
		seconds += float64(v.NumFrames) / v.FPS
		for i, c := range v.Counts {
			counts[i] += float64(c)
		}
		ok = true
	}
	if !ok || seconds == 0 {
		return domain.Scores{}, false
	}
	for i := range scores {
		scores[i] = counts[i] / seconds
	}
	return scores, true
}
