package tasks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clipsmith/config"
	"clipsmith/queue"
	"clipsmith/store"
)

// fakeQueue captures dispatches in memory.
type fakeQueue struct {
	enqueued []queue.Envelope
	delayed  []delayedEnvelope
	groups   [][]queue.Envelope
	fail     error
}

type delayedEnvelope struct {
	env   queue.Envelope
	delay time.Duration
}

func (q *fakeQueue) Enqueue(ctx context.Context, env queue.Envelope) error {
	if q.fail != nil {
		return q.fail
	}
	q.enqueued = append(q.enqueued, env)
	return nil
}

func (q *fakeQueue) EnqueueIn(ctx context.Context, env queue.Envelope, delay time.Duration) error {
	if q.fail != nil {
		return q.fail
	}
	q.delayed = append(q.delayed, delayedEnvelope{env: env, delay: delay})
	return nil
}

func (q *fakeQueue) EnqueueGroup(ctx context.Context, envs []queue.Envelope) error {
	if q.fail != nil {
		return q.fail
	}
	q.groups = append(q.groups, envs)
	return nil
}

// fakeMedia succeeds on every operation unless an error is armed.
type fakeMedia struct {
	cutErr     error
	cropErr    error
	extractErr error
	duration   float64
}

func (m *fakeMedia) Cut(ctx context.Context, src, dst string, start, end float64) error {
	return m.cutErr
}

func (m *fakeMedia) AspectCrop(ctx context.Context, src, dst string) error {
	if m.cropErr != nil {
		return m.cropErr
	}
	return os.WriteFile(dst, []byte("cropped"), 0o644)
}

func (m *fakeMedia) ExtractAudio(ctx context.Context, src, dst string) error {
	return m.extractErr
}

func (m *fakeMedia) Duration(ctx context.Context, src string) (float64, error) {
	return m.duration, nil
}

type fakeDownloader struct {
	path string
	err  error
}

func (d *fakeDownloader) Download(ctx context.Context, url, filenameBase, resolution string) (string, error) {
	return d.path, d.err
}

type fakeTranscriber struct {
	segments []store.Segment
	err      error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) ([]store.Segment, error) {
	return f.segments, f.err
}

type fakeMetadata struct {
	meta store.GeneratedMetadata
	err  error
}

func (m *fakeMetadata) Generate(ctx context.Context, transcript string) (store.GeneratedMetadata, error) {
	return m.meta, m.err
}

type runnerFixture struct {
	runner      *Runner
	store       *store.Store
	queue       *fakeQueue
	media       *fakeMedia
	downloader  *fakeDownloader
	transcriber *fakeTranscriber
	cfg         config.Config
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()

	st, err := store.OpenInMemory()
	require.NoError(t, err)

	cfg := config.Config{
		DownloadDir:       filepath.Join(t.TempDir(), "downloads"),
		ClipsDir:          filepath.Join(t.TempDir(), "clips"),
		DefaultResolution: "480p",
		ClipMinDuration:   1.5,
	}

	f := &runnerFixture{
		store:       st,
		queue:       &fakeQueue{},
		media:       &fakeMedia{duration: 100},
		downloader:  &fakeDownloader{},
		transcriber: &fakeTranscriber{},
		cfg:         cfg,
	}
	f.runner = NewRunner(RunnerConfig{
		Config:      cfg,
		Store:       st,
		Queue:       f.queue,
		Media:       f.media,
		Downloader:  f.downloader,
		Transcriber: f.transcriber,
	})
	return f
}

// withMetadata rebuilds the runner with a metadata generator wired in.
func (f *runnerFixture) withMetadata(gen MetadataGenerator) {
	f.runner = NewRunner(RunnerConfig{
		Config:      f.cfg,
		Store:       f.store,
		Queue:       f.queue,
		Media:       f.media,
		Downloader:  f.downloader,
		Transcriber: f.transcriber,
		Metadata:    gen,
	})
}

// addVideo inserts a job, optionally with a real non-empty source file.
func (f *runnerFixture) addVideo(t *testing.T, url string, withFile bool) *store.Video {
	t.Helper()
	v, created, err := f.store.CreateVideo(url, "test video", "480p")
	require.NoError(t, err)
	require.True(t, created)

	if withFile {
		path := filepath.Join(t.TempDir(), "source.mp4")
		require.NoError(t, os.WriteFile(path, []byte("video bytes"), 0o644))
		require.NoError(t, f.store.SetVideoPath(v.ID, path))
	}
	return v
}

func TestHandleTaskUnknownVideoLeavesNoLedgerRow(t *testing.T) {
	f := newRunnerFixture(t)

	f.runner.HandleTask(context.Background(), queue.NewEnvelope(queue.KindOrchestrate, 999))

	runs, err := f.store.RunsForVideo(999)
	require.NoError(t, err)
	require.Empty(t, runs)
	require.Empty(t, f.queue.enqueued)
}

func TestOrchestrateDispatchesDownloader(t *testing.T) {
	f := newRunnerFixture(t)
	v := f.addVideo(t, "https://example.com/watch?v=1", false)

	f.runner.HandleTask(context.Background(), queue.NewEnvelope(queue.KindOrchestrate, v.ID))

	require.Len(t, f.queue.enqueued, 1)
	require.Equal(t, queue.KindDownload, f.queue.enqueued[0].Kind)
	require.Equal(t, v.ID, f.queue.enqueued[0].VideoID)

	got, err := f.store.Video(v.ID)
	require.NoError(t, err)
	require.Equal(t, "Dispatched downloader", got.ProcessingStatus)

	runs, err := f.store.RunsForVideo(v.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, store.RunSuccess, runs[0].Status)
	require.Equal(t, "orchestrator", runs[0].AgentType)
	require.NotNil(t, runs[0].StartedAt)
	require.NotNil(t, runs[0].FinishedAt)
}

func TestOrchestrateSkipDownloadUsesExistingFile(t *testing.T) {
	f := newRunnerFixture(t)
	v := f.addVideo(t, "https://example.com/watch?v=2", true)

	env := queue.NewEnvelope(queue.KindOrchestrate, v.ID)
	env.SkipDownload = true
	f.runner.HandleTask(context.Background(), env)

	require.Empty(t, f.queue.enqueued, "no downloader should be dispatched")

	got, err := f.store.Video(v.ID)
	require.NoError(t, err)
	require.Equal(t, store.VideoProcessed, got.Status)
	require.Equal(t, "Ready for Clipping (Download Skipped)", got.ProcessingStatus)
}

func TestOrchestrateSkipDownloadFallsBackWhenFileMissing(t *testing.T) {
	f := newRunnerFixture(t)
	v := f.addVideo(t, "https://example.com/watch?v=3", false)

	env := queue.NewEnvelope(queue.KindOrchestrate, v.ID)
	env.SkipDownload = true
	f.runner.HandleTask(context.Background(), env)

	require.Len(t, f.queue.enqueued, 1)
	require.Equal(t, queue.KindDownload, f.queue.enqueued[0].Kind)
}

func TestDownloadSuccessRecordsPath(t *testing.T) {
	f := newRunnerFixture(t)
	v := f.addVideo(t, "https://example.com/watch?v=4", false)

	path := filepath.Join(t.TempDir(), "video_1.mp4")
	require.NoError(t, os.WriteFile(path, []byte("downloaded"), 0o644))
	f.downloader.path = path

	f.runner.HandleTask(context.Background(), queue.NewEnvelope(queue.KindDownload, v.ID))

	got, err := f.store.Video(v.ID)
	require.NoError(t, err)
	require.Equal(t, store.VideoProcessed, got.Status)
	require.NotNil(t, got.FilePath)
	require.Equal(t, path, *got.FilePath)
}

func TestDownloadFailureReenqueuesOnSameLedgerRow(t *testing.T) {
	f := newRunnerFixture(t)
	v := f.addVideo(t, "https://example.com/watch?v=5", false)
	f.downloader.err = errors.New("network unreachable")

	f.runner.HandleTask(context.Background(), queue.NewEnvelope(queue.KindDownload, v.ID))

	runs, err := f.store.RunsForVideo(v.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, store.RunFailed, runs[0].Status)
	require.Contains(t, runs[0].ErrorMessage, "network unreachable")

	// The retry carries the attempt counter and the same ledger row.
	require.Len(t, f.queue.delayed, 1)
	retry := f.queue.delayed[0]
	require.Equal(t, queue.KindDownload, retry.env.Kind)
	require.Equal(t, 1, retry.env.Attempt)
	require.Equal(t, runs[0].ID, retry.env.RunID)
	require.Equal(t, 30*time.Second, retry.delay)

	got, err := f.store.Video(v.ID)
	require.NoError(t, err)
	require.Equal(t, store.VideoError, got.Status)
	require.Contains(t, got.ErrorMessage, "[Attempt 1]")
}

func TestDownloadFailureExhaustedBudgetIsFinal(t *testing.T) {
	f := newRunnerFixture(t)
	v := f.addVideo(t, "https://example.com/watch?v=6", false)
	f.downloader.err = errors.New("video unavailable")

	env := queue.NewEnvelope(queue.KindDownload, v.ID)
	env.Attempt = 2
	f.runner.HandleTask(context.Background(), env)

	require.Empty(t, f.queue.delayed, "budget exhausted, no retry")

	got, err := f.store.Video(v.ID)
	require.NoError(t, err)
	require.Equal(t, store.VideoError, got.Status)
	require.Equal(t, "Download Error", got.ProcessingStatus)
	require.NotContains(t, got.ErrorMessage, "[Attempt")
}

func TestBatchDispatchFansOutClipTasks(t *testing.T) {
	f := newRunnerFixture(t)
	v := f.addVideo(t, "https://example.com/watch?v=7", true)

	env := queue.NewEnvelope(queue.KindBatchDispatch, v.ID)
	env.CutPoints = []float64{30, 60}
	env.ClipType = store.ClipTypeBatch
	f.runner.HandleTask(context.Background(), env)

	require.Len(t, f.queue.groups, 1)
	group := f.queue.groups[0]
	require.Len(t, group, 3)
	for _, clipEnv := range group {
		require.Equal(t, queue.KindProcessClip, clipEnv.Kind)
		require.Equal(t, v.ID, clipEnv.VideoID)
		require.Equal(t, store.ClipTypeBatch, clipEnv.ClipType)
		require.Contains(t, clipEnv.OutputPath, f.cfg.ClipsDir)
	}

	got, err := f.store.Video(v.ID)
	require.NoError(t, err)
	require.Equal(t, store.VideoProcessing, got.Status)
	require.Equal(t, "Batch Clipping Queued (3 clips)", got.ProcessingStatus)
}

func TestBatchDispatchNoSegmentsIsSuccess(t *testing.T) {
	f := newRunnerFixture(t)
	v := f.addVideo(t, "https://example.com/watch?v=8", true)
	f.media.duration = 0.05

	env := queue.NewEnvelope(queue.KindBatchDispatch, v.ID)
	f.runner.HandleTask(context.Background(), env)

	require.Empty(t, f.queue.groups)

	got, err := f.store.Video(v.ID)
	require.NoError(t, err)
	require.Equal(t, "Batch Cut Complete (No Segments)", got.ProcessingStatus)

	runs, err := f.store.RunsForVideo(v.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, store.RunSuccess, runs[0].Status)
}

func TestProcessClipHappyPath(t *testing.T) {
	f := newRunnerFixture(t)
	v := f.addVideo(t, "https://example.com/watch?v=9", true)
	f.transcriber.segments = []store.Segment{
		{Start: 0, End: 2.5, Text: "good afternoon"},
		{Start: 2.5, End: 5, Text: "we begin with the budget"},
	}

	require.NoError(t, os.MkdirAll(f.cfg.ClipsDir, 0o755))
	out := filepath.Join(f.cfg.ClipsDir, "batch_batch_1_seg000_0s0-30s0.mp4")
	env := NewClipEnvelope(v.ID, 0, 30, out, store.ClipTypeBatch)
	f.runner.HandleTask(context.Background(), env)

	clip, err := f.store.ClipByPath(out)
	require.NoError(t, err)
	require.Equal(t, store.ClipCompleted, clip.Status)
	require.Empty(t, clip.ErrorMessage)

	transcript, err := f.store.Transcript(clip.ID)
	require.NoError(t, err)
	require.Equal(t, store.ClipCompleted, transcript.Status)
	require.Len(t, transcript.Segments, 2)

	runs, err := f.store.RunsForVideo(v.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, store.RunSuccess, runs[0].Status)
	require.Equal(t, "clip_processor", runs[0].AgentType)
	require.Equal(t, filepath.Base(out), runs[0].TargetID)
}

func TestProcessClipMetadataFailureStillCompletes(t *testing.T) {
	f := newRunnerFixture(t)
	v := f.addVideo(t, "https://example.com/watch?v=12", true)
	f.transcriber.segments = []store.Segment{{Start: 0, End: 3, Text: "point of order"}}
	f.withMetadata(&fakeMetadata{err: errors.New("rate limited")})

	out := filepath.Join(f.cfg.ClipsDir, "batch_batch_1_seg000_0s0-30s0.mp4")
	f.runner.HandleTask(context.Background(), NewClipEnvelope(v.ID, 0, 30, out, store.ClipTypeBatch))

	// Metadata is best-effort: the clip and the run both still succeed.
	clip, err := f.store.ClipByPath(out)
	require.NoError(t, err)
	require.Equal(t, store.ClipCompleted, clip.Status)
	require.Empty(t, clip.ErrorMessage)

	runs, err := f.store.RunsForVideo(v.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, store.RunSuccess, runs[0].Status)
	require.Empty(t, f.queue.delayed, "a degraded clip is not retried")

	// The failure is recorded on the metadata record itself.
	meta, err := f.store.Metadata(clip.ID)
	require.NoError(t, err)
	require.Equal(t, store.ClipFailed, meta.Status)
	require.Contains(t, meta.ErrorMessage, "rate limited")
}

func TestProcessClipStoresGeneratedMetadata(t *testing.T) {
	f := newRunnerFixture(t)
	v := f.addVideo(t, "https://example.com/watch?v=13", true)
	f.transcriber.segments = []store.Segment{{Start: 0, End: 3, Text: "point of order"}}
	f.withMetadata(&fakeMetadata{meta: store.GeneratedMetadata{
		Title:       "Point of Order",
		Description: "A procedural objection is raised.",
		Keywords:    []string{"procedure"},
	}})

	out := filepath.Join(f.cfg.ClipsDir, "batch_batch_1_seg000_0s0-30s0.mp4")
	f.runner.HandleTask(context.Background(), NewClipEnvelope(v.ID, 0, 30, out, store.ClipTypeBatch))

	clip, err := f.store.ClipByPath(out)
	require.NoError(t, err)
	require.Equal(t, store.ClipCompleted, clip.Status)

	meta, err := f.store.Metadata(clip.ID)
	require.NoError(t, err)
	require.Equal(t, store.ClipCompleted, meta.Status)
	require.Equal(t, "Point of Order", meta.Title)
	require.Equal(t, []string{"procedure"}, meta.Keywords)
}

func TestProcessClipCutFailureStaysOnClip(t *testing.T) {
	f := newRunnerFixture(t)
	v := f.addVideo(t, "https://example.com/watch?v=10", true)
	f.media.cutErr = errors.New("Invalid data found when processing input")

	out := filepath.Join(f.cfg.ClipsDir, "batch_batch_1_seg000_0s0-30s0.mp4")
	env := NewClipEnvelope(v.ID, 0, 30, out, store.ClipTypeBatch)
	f.runner.HandleTask(context.Background(), env)

	clip, err := f.store.ClipByPath(out)
	require.NoError(t, err)
	require.Equal(t, store.ClipFailed, clip.Status)
	require.Contains(t, clip.ErrorMessage, "cut failed")

	// Clip failures never flip the video to Error.
	got, err := f.store.Video(v.ID)
	require.NoError(t, err)
	require.NotEqual(t, store.VideoError, got.Status)

	// One retry is still in flight.
	require.Len(t, f.queue.delayed, 1)
	require.Equal(t, 60*time.Second, f.queue.delayed[0].delay)
}

func TestProcessClipRedeliveryReusesClipRow(t *testing.T) {
	f := newRunnerFixture(t)
	v := f.addVideo(t, "https://example.com/watch?v=11", true)

	out := filepath.Join(f.cfg.ClipsDir, "batch_batch_1_seg001_30s0-60s0.mp4")

	f.media.cutErr = errors.New("disk full")
	f.runner.HandleTask(context.Background(), NewClipEnvelope(v.ID, 30, 60, out, store.ClipTypeBatch))

	failed, err := f.store.ClipByPath(out)
	require.NoError(t, err)
	require.Equal(t, store.ClipFailed, failed.Status)

	f.media.cutErr = nil
	f.runner.HandleTask(context.Background(), NewClipEnvelope(v.ID, 30, 60, out, store.ClipTypeBatch))

	recovered, err := f.store.ClipByPath(out)
	require.NoError(t, err)
	require.Equal(t, failed.ID, recovered.ID, "same path must reuse the same row")
	require.Equal(t, store.ClipCompleted, recovered.Status)
	require.Empty(t, recovered.ErrorMessage)
}
