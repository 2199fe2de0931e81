package tasks

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"clipsmith/media"
	"clipsmith/queue"
	"clipsmith/store"
)

// minSegmentGap is the floor below which cut points merge and segments are
// dropped, preventing degenerate zero-length clips.
const minSegmentGap = 0.1

// Segment is one planned clip interval.
type Segment struct {
	Index int
	Start float64
	End   float64
}

// PlanSegments turns raw cut points into non-overlapping intervals covering
// [0, duration). Points outside the range are discarded, clusters closer
// than 0.1s collapse to their first member, and intervals shorter than
// 0.1s are skipped. An empty plan is a valid result.
func PlanSegments(cutPoints []float64, duration float64) []Segment {
	points := make([]float64, 0, len(cutPoints))
	for _, ts := range cutPoints {
		if ts >= 0 && ts < duration {
			points = append(points, ts)
		}
	}
	sort.Float64s(points)

	var unique []float64
	if len(points) > 0 {
		unique = append(unique, points[0])
		for i := 1; i < len(points); i++ {
			if points[i] > points[i-1]+minSegmentGap {
				unique = append(unique, points[i])
			}
		}
	}

	var segments []Segment
	lastCut := 0.0
	if len(unique) > 0 && unique[0] > 0.01 {
		segments = append(segments, Segment{Index: 0, Start: 0, End: unique[0]})
		lastCut = unique[0]
	}
	for _, ts := range unique {
		if ts > lastCut+minSegmentGap {
			segments = append(segments, Segment{Index: len(segments), Start: lastCut, End: ts})
		}
		lastCut = ts
	}
	if lastCut < duration-minSegmentGap {
		segments = append(segments, Segment{Index: len(segments), Start: lastCut, End: duration})
	}
	return segments
}

// NewClipEnvelope builds the envelope for one clip-processing unit of
// work. The batch dispatcher and the manual single-clip entry point both
// go through here, so a manually requested clip gets exactly the same
// retry and failure semantics as a fanned-out one.
func NewClipEnvelope(videoID uint, start, end float64, outputPath, clipType string) queue.Envelope {
	env := queue.NewEnvelope(queue.KindProcessClip, videoID)
	env.StartTime = start
	env.EndTime = end
	env.OutputPath = outputPath
	env.ClipType = clipType
	return env
}

// batchDispatch plans segments for a video and fans out one clip task per
// segment. It does not wait for the group; completion is observed through
// per-clip status.
func (r *Runner) batchDispatch(ctx context.Context, env queue.Envelope) Outcome {
	video, err := r.store.Video(env.VideoID)
	if err != nil {
		return Terminal(fmt.Errorf("load video %d: %w", env.VideoID, err))
	}
	if !fileUsable(video.FilePath) {
		return Terminal(fmt.Errorf("source video file missing or empty for video %d", video.ID))
	}
	sourcePath := *video.FilePath

	duration, err := r.media.Duration(ctx, sourcePath)
	if err != nil {
		// The file may not be fully flushed yet; probe once more.
		time.Sleep(time.Second)
		duration, err = r.media.Duration(ctx, sourcePath)
		if err != nil {
			return Terminal(fmt.Errorf("determine duration for video %d: %w", video.ID, err))
		}
	}

	segments := PlanSegments(env.CutPoints, duration)
	if len(segments) == 0 {
		log.Printf("Video %d: no segments after planning %d cut points, nothing to dispatch", video.ID, len(env.CutPoints))
		if err := r.store.SetVideoStatus(video.ID, "", "Batch Cut Complete (No Segments)"); err != nil {
			log.Printf("⚠️  Failed to stamp empty batch result for video %d: %v", video.ID, err)
		}
		return Succeed("no valid segments to cut based on provided timestamps")
	}

	if err := r.store.SetVideoStatus(video.ID, store.VideoProcessing,
		fmt.Sprintf("Batch Clipping Queued (%d clips)", len(segments))); err != nil {
		return Terminal(fmt.Errorf("stamp batch dispatch for video %d: %w", video.ID, err))
	}
	if err := os.MkdirAll(r.cfg.ClipsDir, 0o755); err != nil {
		return Terminal(fmt.Errorf("create clips dir: %w", err))
	}

	group := make([]queue.Envelope, 0, len(segments))
	for _, seg := range segments {
		name := media.BatchClipName(env.ClipType, video.ID, seg.Index, seg.Start, seg.End)
		group = append(group, NewClipEnvelope(video.ID, seg.Start, seg.End, filepath.Join(r.cfg.ClipsDir, name), env.ClipType))
	}

	if err := r.queue.EnqueueGroup(ctx, group); err != nil {
		return Terminal(fmt.Errorf("dispatch clip group for video %d: %w", video.ID, err))
	}
	return Succeed(fmt.Sprintf("dispatched %d clip processing tasks", len(group)))
}
