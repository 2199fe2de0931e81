package store

import (
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	return s
}

func TestCreateVideoDuplicateURLReturnsExisting(t *testing.T) {
	s := newTestStore(t)

	first, created, err := s.CreateVideo("https://example.com/a", "Sitting Day 1", "480p")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, VideoPending, first.Status)
	require.Equal(t, "Added", first.ProcessingStatus)

	second, created, err := s.CreateVideo("https://example.com/a", "different title", "720p")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)

	// The original row is untouched by the duplicate submission.
	got, err := s.Video(first.ID)
	require.NoError(t, err)
	require.Equal(t, "Sitting Day 1", got.Title)
	require.Equal(t, "480p", got.Resolution)
}

func TestSetVideoStatusEmptyFieldsLeaveValues(t *testing.T) {
	s := newTestStore(t)
	v, _, err := s.CreateVideo("https://example.com/b", "t", "480p")
	require.NoError(t, err)

	require.NoError(t, s.SetVideoStatus(v.ID, VideoQueued, "Orchestrator Started"))
	require.NoError(t, s.SetVideoStatus(v.ID, "", "Dispatched downloader"))

	got, err := s.Video(v.ID)
	require.NoError(t, err)
	require.Equal(t, VideoQueued, got.Status)
	require.Equal(t, "Dispatched downloader", got.ProcessingStatus)
}

func TestMarkVideoErrorTruncatesMessage(t *testing.T) {
	s := newTestStore(t)
	v, _, err := s.CreateVideo("https://example.com/c", "t", "480p")
	require.NoError(t, err)

	long := strings.Repeat("x", maxVideoError+500)
	require.NoError(t, s.MarkVideoError(v.ID, long, "Download Error"))

	got, err := s.Video(v.ID)
	require.NoError(t, err)
	require.Equal(t, VideoError, got.Status)
	require.Equal(t, "Download Error", got.ProcessingStatus)
	require.Len(t, got.ErrorMessage, maxVideoError)
}

func TestTruncateNeverSplitsRunes(t *testing.T) {
	// "界" is 3 bytes; the 1-byte prefix puts every rune off the 3-byte
	// grid, so a naive byte slice at any bound lands mid-rune.
	long := "x" + strings.Repeat("界", maxVideoError)

	got := truncate(long, maxVideoError)
	require.LessOrEqual(t, len(got), maxVideoError)
	require.True(t, utf8.ValidString(got), "truncation must not leave invalid UTF-8")

	// Short strings and exact fits pass through untouched.
	require.Equal(t, "abc", truncate("abc", 3))
	require.Equal(t, "界界", truncate("界界", 6))
}

func TestMarkVideoErrorKeepsValidUTF8(t *testing.T) {
	s := newTestStore(t)
	v, _, err := s.CreateVideo("https://example.com/utf8", "t", "480p")
	require.NoError(t, err)

	require.NoError(t, s.MarkVideoError(v.ID, "x"+strings.Repeat("界", maxVideoError), "Download Error"))

	got, err := s.Video(v.ID)
	require.NoError(t, err)
	require.True(t, utf8.ValidString(got.ErrorMessage))
	require.LessOrEqual(t, len(got.ErrorMessage), maxVideoError)
}

func TestSetVideoPathConflict(t *testing.T) {
	s := newTestStore(t)
	a, _, err := s.CreateVideo("https://example.com/d1", "t", "480p")
	require.NoError(t, err)
	b, _, err := s.CreateVideo("https://example.com/d2", "t", "480p")
	require.NoError(t, err)

	require.NoError(t, s.SetVideoPath(a.ID, "/downloads/video_1.mp4"))
	err = s.SetVideoPath(b.ID, "/downloads/video_1.mp4")
	require.ErrorIs(t, err, ErrPathConflict)
}

func TestResetForReprocessKeepsClipsDropsRuns(t *testing.T) {
	s := newTestStore(t)
	v, _, err := s.CreateVideo("https://example.com/e", "t", "480p")
	require.NoError(t, err)

	_, err = s.CreateClip(v.ID, "/clips/one.mp4", 0, 30, ClipTypeBatch, ClipCompleted)
	require.NoError(t, err)
	runID, err := s.BeginRun(v.ID, "downloader", "")
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(runID, RunFailed, "boom", ""))
	require.NoError(t, s.MarkVideoError(v.ID, "boom", "Download Error"))
	require.NoError(t, s.SetManualTimestamps(v.ID, "00:30, 01:00"))

	require.NoError(t, s.ResetForReprocess(v.ID))

	got, err := s.Video(v.ID)
	require.NoError(t, err)
	require.Equal(t, VideoPending, got.Status)
	require.Empty(t, got.ErrorMessage)
	require.Empty(t, got.ManualTimestamps)

	clips, err := s.ClipsForVideo(v.ID)
	require.NoError(t, err)
	require.Len(t, clips, 1, "clips survive a reprocess")

	runs, err := s.RunsForVideo(v.ID)
	require.NoError(t, err)
	require.Empty(t, runs, "ledger history is cleared")
}

func TestDeleteVideosReturnsOwnedPaths(t *testing.T) {
	s := newTestStore(t)
	v, _, err := s.CreateVideo("https://example.com/f", "t", "480p")
	require.NoError(t, err)
	keep, _, err := s.CreateVideo("https://example.com/g", "t", "480p")
	require.NoError(t, err)

	require.NoError(t, s.SetVideoPath(v.ID, "/downloads/video_f.mp4"))
	_, err = s.CreateClip(v.ID, "/clips/f_seg000.mp4", 0, 30, ClipTypeBatch, ClipCompleted)
	require.NoError(t, err)

	paths, deleted, err := s.DeleteVideos([]uint{v.ID})
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)
	require.ElementsMatch(t, []string{"/downloads/video_f.mp4", "/clips/f_seg000.mp4"}, paths)

	require.False(t, s.VideoExists(v.ID))
	require.True(t, s.VideoExists(keep.ID))

	clips, err := s.ClipsForVideo(v.ID)
	require.NoError(t, err)
	require.Empty(t, clips)
}

func TestDeleteVideosCascadesOnFreshConnections(t *testing.T) {
	// A file-backed store through Open, because this exercises the real
	// DSN. SQLite enforces foreign keys per connection; draining the idle
	// pool forces every statement onto a fresh connection, so the cascade
	// only holds if the pragma rides in the DSN.
	s, err := Open(filepath.Join(t.TempDir(), "cascade.db"))
	require.NoError(t, err)

	sqlDB, err := s.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxIdleConns(0)

	v, _, err := s.CreateVideo("https://example.com/fk", "t", "480p")
	require.NoError(t, err)
	clip, err := s.CreateClip(v.ID, "/clips/fk_seg000.mp4", 0, 30, ClipTypeBatch, ClipCompleted)
	require.NoError(t, err)
	require.NoError(t, s.UpsertTranscript(clip.ID, []Segment{{Start: 0, End: 4, Text: "order"}}))
	_, err = s.BeginRun(v.ID, "clip_processor", "fk_seg000.mp4")
	require.NoError(t, err)

	_, deleted, err := s.DeleteVideos([]uint{v.ID})
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	var clips int64
	require.NoError(t, s.db.Model(&Clip{}).Where("video_id = ?", v.ID).Count(&clips).Error)
	require.Zero(t, clips, "clip rows must cascade with their video")

	var transcripts int64
	require.NoError(t, s.db.Model(&ClipTranscript{}).Where("clip_id = ?", clip.ID).Count(&transcripts).Error)
	require.Zero(t, transcripts, "transcripts must cascade with their clip")

	runs, err := s.RunsForVideo(v.ID)
	require.NoError(t, err)
	require.Empty(t, runs, "agent runs must cascade with their video")
}

func TestUpsertTranscriptClearsPriorFailure(t *testing.T) {
	s := newTestStore(t)
	v, _, err := s.CreateVideo("https://example.com/h", "t", "480p")
	require.NoError(t, err)
	clip, err := s.CreateClip(v.ID, "/clips/h.mp4", 0, 10, ClipTypeManual, ClipProcessing)
	require.NoError(t, err)

	require.NoError(t, s.SetTranscriptStatus(clip.ID, ClipFailed, "whisper timed out"))

	segments := []Segment{{Start: 0, End: 4, Text: "order, order"}}
	require.NoError(t, s.UpsertTranscript(clip.ID, segments))

	got, err := s.Transcript(clip.ID)
	require.NoError(t, err)
	require.Equal(t, ClipCompleted, got.Status)
	require.Empty(t, got.ErrorMessage)
	require.Len(t, got.Segments, 1)
	require.Equal(t, "order, order", got.Segments[0].Text)
}

func TestUpsertMetadataReplacesRecord(t *testing.T) {
	s := newTestStore(t)
	v, _, err := s.CreateVideo("https://example.com/i", "t", "480p")
	require.NoError(t, err)
	clip, err := s.CreateClip(v.ID, "/clips/i.mp4", 0, 10, ClipTypeBatch, ClipProcessing)
	require.NoError(t, err)

	require.NoError(t, s.UpsertMetadata(clip.ID, GeneratedMetadata{Title: "first"}))
	require.NoError(t, s.UpsertMetadata(clip.ID, GeneratedMetadata{
		Title:       "second",
		Description: "a better take",
		Keywords:    []string{"budget", "debate"},
	}))

	got, err := s.Metadata(clip.ID)
	require.NoError(t, err)
	require.Equal(t, "second", got.Title)
	require.Equal(t, []string{"budget", "debate"}, got.Keywords)
}

func TestFinishRunTruncatesAndClearsError(t *testing.T) {
	s := newTestStore(t)
	v, _, err := s.CreateVideo("https://example.com/j", "t", "480p")
	require.NoError(t, err)

	runID, err := s.BeginRun(v.ID, "clip_processor", "clip.mp4")
	require.NoError(t, err)
	require.NoError(t, s.StartRun(runID))
	require.NoError(t, s.FinishRun(runID, RunFailed, strings.Repeat("e", maxRunError+100), ""))

	failed, err := s.Run(runID)
	require.NoError(t, err)
	require.Equal(t, RunFailed, failed.Status)
	require.Len(t, failed.ErrorMessage, maxRunError)

	// A later successful attempt on the same row clears the error.
	require.NoError(t, s.StartRun(runID))
	require.NoError(t, s.FinishRun(runID, RunSuccess, "", strings.Repeat("p", maxRunPreview+50)))

	ok, err := s.Run(runID)
	require.NoError(t, err)
	require.Equal(t, RunSuccess, ok.Status)
	require.Empty(t, ok.ErrorMessage)
	require.Len(t, ok.ResultPreview, maxRunPreview)
}

func TestUpsertSpeaker(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpsertSpeaker("Jane Tan", "Eastview", "Independent", true)
	require.NoError(t, err)
	updated, err := s.UpsertSpeaker("Jane Tan", "Eastview", "Unity Party", false)
	require.NoError(t, err)
	require.Equal(t, "Unity Party", updated.Party)
	require.False(t, updated.Active)

	all, err := s.Speakers(false)
	require.NoError(t, err)
	require.Len(t, all, 1)

	active, err := s.Speakers(true)
	require.NoError(t, err)
	require.Empty(t, active)
}
