package tasks

import (
	"context"
	"fmt"
	"log"
	"os"

	"clipsmith/queue"
	"clipsmith/store"
)

// orchestrate decides the first unit of work for a video. skip_download is
// a hint, not a guarantee: when the promised file is missing or empty the
// downloader is dispatched anyway.
func (r *Runner) orchestrate(ctx context.Context, env queue.Envelope) Outcome {
	video, err := r.store.Video(env.VideoID)
	if err != nil {
		return Terminal(fmt.Errorf("load video %d: %w", env.VideoID, err))
	}

	if err := r.store.SetVideoStatus(video.ID, store.VideoQueued, "Orchestrator Started"); err != nil {
		return Terminal(fmt.Errorf("stamp orchestrator start for video %d: %w", video.ID, err))
	}

	needDownload := true
	if env.SkipDownload {
		if fileUsable(video.FilePath) {
			needDownload = false
		} else {
			log.Printf("Video %d: skip_download requested but source file missing or empty, falling back to downloader", video.ID)
		}
	}

	if !needDownload {
		if err := r.store.SetVideoStatus(video.ID, store.VideoProcessed, "Ready for Clipping (Download Skipped)"); err != nil {
			return Terminal(fmt.Errorf("stamp skip result for video %d: %w", video.ID, err))
		}
		return Succeed("no unit of work dispatched; source file already present")
	}

	// The video may have been deleted while we were deciding.
	if !r.store.VideoExists(video.ID) {
		return Succeed("aborted: video deleted before dispatch")
	}

	if err := r.queue.Enqueue(ctx, queue.NewEnvelope(queue.KindDownload, video.ID)); err != nil {
		return Terminal(fmt.Errorf("dispatch downloader for video %d: %w", video.ID, err))
	}
	if err := r.store.SetVideoStatus(video.ID, "", "Dispatched downloader"); err != nil {
		log.Printf("⚠️  Failed to stamp dispatch for video %d: %v", video.ID, err)
	}
	return Succeed("dispatched downloader")
}

// fileUsable reports whether the recorded path points at a non-empty file.
func fileUsable(path *string) bool {
	if path == nil || *path == "" {
		return false
	}
	info, err := os.Stat(*path)
	return err == nil && info.Size() > 0
}
