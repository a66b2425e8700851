package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thirdcoast.systems/youmood/internal/db/sqlite"
	"thirdcoast.systems/youmood/internal/domain"
	"thirdcoast.systems/youmood/internal/fetch"
	"thirdcoast.systems/youmood/internal/resilience"
	"thirdcoast.systems/youmood/internal/resilience/resiliencetest"
	"thirdcoast.systems/youmood/internal/workstore"
)

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeDownloader struct {
	mu    sync.Mutex
	calls int
	errs  []error
	fps   float64
}

func (f *fakeDownloader) Download(_ context.Context, video domain.Video) (*fetch.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &fetch.Download{Path: "/spool/" + video.ID + ".mp4", FPS: f.fps, Width: 4, Height: 2}, nil
}

type fakeStream struct {
	frames []*image.RGBA
	closed bool
}

func (s *fakeStream) Next() (*image.RGBA, error) {
	if len(s.frames) == 0 {
		return nil, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

func frames(n, w, h int) []*image.RGBA {
	out := make([]*image.RGBA, n)
	for i := range out {
		out[i] = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	return out
}

type fakeFaces struct {
	found bool
	calls int
}

func (f *fakeFaces) FindFace(_ context.Context, frame image.Image) (image.Image, error) {
	f.calls++
	if !f.found {
		return nil, nil
	}
	return frame, nil
}

type prediction struct {
	label domain.Label
	score float64
	err   error
}

type fakeClassifier struct {
	next []prediction
}

func (c *fakeClassifier) Classify(context.Context, image.Image) (domain.Label, float64, error) {
	p := c.next[0]
	if len(c.next) > 1 {
		c.next = c.next[1:]
	}
	return p.label, p.score, p.err
}

type savedFace struct {
	channelID string
	label     domain.Label
}

type fakeFaceStore struct {
	saved []savedFace
}

func (s *fakeFaceStore) Save(channelID string, label domain.Label, _ image.Image) error {
	s.saved = append(s.saved, savedFace{channelID, label})
	return nil
}

type harness struct {
	store      *sqlite.DB
	downloader *fakeDownloader
	stream     *fakeStream
	faces      *fakeFaces
	classifier *fakeClassifier
	faceStore  *fakeFaceStore
	clock      *resiliencetest.Clock
	proc       *Processor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, "sqlite:"+filepath.Join(t.TempDir(), "youmood.db"), workstore.DefaultIntervals())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	title := "Channel One"
	require.NoError(t, store.UpsertChannelVideos(ctx, domain.ChannelSync{
		ChannelID: "UC1",
		Title:     &title,
		Now:       start.Add(-time.Hour),
		Videos:    []domain.DiscoveredVideo{{ID: "v1", Published: start.Add(-2 * time.Hour)}},
	}))

	h := &harness{
		store:      store,
		downloader: &fakeDownloader{fps: 2},
		stream:     &fakeStream{frames: frames(6, 4, 2)},
		faces:      &fakeFaces{found: true},
		classifier: &fakeClassifier{next: []prediction{{label: domain.LabelHappiness, score: 0.5}}},
		faceStore:  &fakeFaceStore{},
		clock:      resiliencetest.NewClock(start),
	}
	h.useStore(store)
	return h
}

// useStore rebuilds the processor around store, keeping the fakes.
func (h *harness) useStore(store workstore.Store) {
	source := func(context.Context, string) (FrameStream, error) { return h.stream, nil }
	h.proc = New(store, h.downloader, source, h.faces, h.classifier, h.faceStore, Config{
		TimeUnit: time.Microsecond,
		Clock:    h.clock,
	})
}

// flakySaves fails the first fails calls to SaveVideoResult.
type flakySaves struct {
	workstore.Store
	fails int
	calls int
}

func (f *flakySaves) SaveVideoResult(ctx context.Context, result domain.VideoResult) error {
	f.calls++
	if f.calls <= f.fails {
		return resilience.Mark(resilience.KindTransient, errors.New("database is locked"))
	}
	return f.Store.SaveVideoResult(ctx, result)
}

func (h *harness) stage(t *testing.T, id string) domain.Stage {
	t.Helper()
	v, err := h.store.Video(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, v)
	return v.Stage
}

func TestRunOnce_SavesAndAggregates(t *testing.T) {
	h := newHarness(t)
	h.classifier.next = []prediction{
		{label: domain.LabelHappiness, score: 0.5},
		{label: domain.LabelHappiness, score: 0.9},
		{label: domain.LabelSadness, score: 0.3},
	}
	ctx := context.Background()

	processed, err := h.proc.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	require.Equal(t, domain.StageSaved, h.stage(t, "v1"))

	// 6 frames at 2 fps: frames 0, 2 and 4 are sampled.
	assert.Equal(t, 3, h.faces.calls)
	assert.True(t, h.stream.closed)
	assert.Equal(t, []savedFace{
		{"UC1", domain.LabelHappiness},
		{"UC1", domain.LabelHappiness},
		{"UC1", domain.LabelSadness},
	}, h.faceStore.saved)

	// 6 frames / 2 fps = 3 seconds of video.
	ch, err := h.store.Channel(ctx, "UC1")
	require.NoError(t, err)
	require.NotNil(t, ch.Scores)
	assert.InDelta(t, 2.0/3.0, ch.Scores.Get(domain.LabelHappiness), 1e-9)
	assert.InDelta(t, 1.0/3.0, ch.Scores.Get(domain.LabelSadness), 1e-9)
	assert.Zero(t, ch.Scores.Get(domain.LabelAnger))

	processed, err = h.proc.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed, "saved videos are not selected again")
}

func TestRunOnce_LowerScoreKeepsBestFace(t *testing.T) {
	h := newHarness(t)
	h.classifier.next = []prediction{
		{label: domain.LabelFear, score: 0.9},
		{label: domain.LabelFear, score: 0.4},
		{label: domain.LabelFear, score: 0.9},
	}

	_, err := h.proc.RunOnce(context.Background())
	require.NoError(t, err)
	// The equal score replaces the stored face, the lower one does not.
	assert.Len(t, h.faceStore.saved, 2)
}

func TestRunOnce_PortraitDownloadFailsStageOne(t *testing.T) {
	h := newHarness(t)
	h.downloader.errs = []error{resilience.Mark(resilience.KindShortForm, fetch.ErrShortForm)}
	ctx := context.Background()

	processed, err := h.proc.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, domain.StageDownloaded.Failed(), h.stage(t, "v1"))
	assert.Equal(t, 1, h.downloader.calls, "short-form is never retried")

	processed, err = h.proc.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed, "failed videos are not selected again")
}

func TestRunOnce_UnavailableBypassesRetry(t *testing.T) {
	h := newHarness(t)
	h.downloader.errs = []error{resilience.Mark(resilience.KindUnavailable, fetch.ErrUnavailable)}

	_, err := h.proc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StageDownloaded.Failed(), h.stage(t, "v1"))
	assert.Equal(t, 1, h.downloader.calls)
}

func TestRunOnce_TransientDownloadIsRetried(t *testing.T) {
	h := newHarness(t)
	flaky := resilience.Mark(resilience.KindTransient, errors.New("connection reset"))
	h.downloader.errs = []error{flaky, flaky}

	_, err := h.proc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, h.downloader.calls)
	assert.Equal(t, domain.StageSaved, h.stage(t, "v1"))
}

func TestRunOnce_DownloadGivesUpAfterLadder(t *testing.T) {
	h := newHarness(t)
	flaky := resilience.Mark(resilience.KindTransient, errors.New("connection reset"))
	h.downloader.errs = []error{flaky, flaky, flaky, flaky, flaky, flaky}

	_, err := h.proc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, h.downloader.calls)
	assert.Equal(t, domain.StageDownloaded.Failed(), h.stage(t, "v1"))
}

func TestRunOnce_ZeroFacesFailsSave(t *testing.T) {
	h := newHarness(t)
	h.faces.found = false
	ctx := context.Background()

	_, err := h.proc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StageSaved.Failed(), h.stage(t, "v1"))

	ch, err := h.store.Channel(ctx, "UC1")
	require.NoError(t, err)
	assert.Nil(t, ch.Scores, "aggregation is not invoked")
}

func TestRunOnce_PortraitFrameFailsAnalysis(t *testing.T) {
	h := newHarness(t)
	h.stream.frames = frames(4, 2, 4)

	_, err := h.proc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StageAnalyzed.Failed(), h.stage(t, "v1"))
	assert.Zero(t, h.faces.calls)
	assert.True(t, h.stream.closed)
}

func TestRunOnce_ClassifierErrorFailsAnalysisWithoutRetry(t *testing.T) {
	h := newHarness(t)
	h.classifier.next = []prediction{{err: resilience.Mark(resilience.KindTransient, errors.New("model down"))}}

	_, err := h.proc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StageAnalyzed.Failed(), h.stage(t, "v1"))
	assert.Equal(t, 1, h.faces.calls)
	assert.Equal(t, 1, h.downloader.calls)
}

func TestRunOnce_EmptyVideoFailsAnalysis(t *testing.T) {
	h := newHarness(t)
	h.stream.frames = nil

	_, err := h.proc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StageAnalyzed.Failed(), h.stage(t, "v1"))
}

func TestRunOnce_ResumesInterruptedVideo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SetVideoStage(ctx, "v1", domain.StageAnalyzed))

	processed, err := h.proc.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, 1, h.downloader.calls, "downloads are redone")
	assert.Equal(t, domain.StageSaved, h.stage(t, "v1"))
}

func TestRunOnce_ResumedVideoFailsFromStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SetVideoStage(ctx, "v1", domain.StageAnalyzed))
	h.downloader.errs = []error{resilience.Mark(resilience.KindUnavailable, fetch.ErrUnavailable)}

	processed, err := h.proc.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, domain.StageDownloaded.Failed(), h.stage(t, "v1"))
}

func TestRunOnce_ResumedVideoFailsAnalysis(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SetVideoStage(ctx, "v1", domain.StageAnalyzed))
	h.stream.frames = nil

	_, err := h.proc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StageAnalyzed.Failed(), h.stage(t, "v1"))
}

func TestRunOnce_SaveIsRetriedUntilItSucceeds(t *testing.T) {
	h := newHarness(t)
	saves := &flakySaves{Store: h.store, fails: 9}
	h.useStore(saves)
	ctx := context.Background()

	processed, err := h.proc.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, 10, saves.calls, "the last delay repeats past the ladder")
	assert.Equal(t, domain.StageSaved, h.stage(t, "v1"))
	assert.Equal(t, 1, h.downloader.calls, "the video is downloaded once")

	ch, err := h.store.Channel(ctx, "UC1")
	require.NoError(t, err)
	require.NotNil(t, ch.Scores)

	processed, err = h.proc.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Equal(t, 1, h.downloader.calls)
}

func TestRunOnce_NothingToDo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SetVideoStage(ctx, "v1", domain.StageSaved.Failed()))

	processed, err := h.proc.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Zero(t, h.downloader.calls)
}

func TestRunOnce_OldVideosAreSkipped(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(31 * 24 * time.Hour)

	processed, err := h.proc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

// cancelOnSleep cancels the run the first time the processor idles.
type cancelOnSleep struct {
	*resiliencetest.Clock
	cancel context.CancelFunc
}

func (c cancelOnSleep) Sleep(ctx context.Context, _ time.Duration) error {
	c.cancel()
	return ctx.Err()
}

func TestRun_StopsWhenIdleAndCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := func(context.Context, string) (FrameStream, error) { return h.stream, nil }
	p := New(h.store, h.downloader, source, h.faces, h.classifier, h.faceStore, Config{
		TimeUnit: time.Microsecond,
		Clock:    cancelOnSleep{Clock: h.clock, cancel: cancel},
	})

	err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	// The pending video was finished before the loop went idle.
	assert.Equal(t, domain.StageSaved, h.stage(t, "v1"))
}
