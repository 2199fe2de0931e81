package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"

	"clipsmith/queue"
	"clipsmith/store"
)

// download fetches the source video. A file already present and non-empty
// at the recorded path satisfies the step without touching the network.
func (r *Runner) download(ctx context.Context, env queue.Envelope) Outcome {
	video, err := r.store.Video(env.VideoID)
	if err != nil {
		return Terminal(fmt.Errorf("load video %d: %w", env.VideoID, err))
	}
	if video.SourceURL == "" {
		return Terminal(fmt.Errorf("video %d has no source URL", video.ID))
	}

	if fileUsable(video.FilePath) {
		log.Printf("Video %d: source file already present at %s, skipping download", video.ID, *video.FilePath)
		if err := r.store.SetVideoStatus(video.ID, store.VideoProcessed, "Ready for Clipping"); err != nil {
			return Terminal(fmt.Errorf("stamp download result for video %d: %w", video.ID, err))
		}
		return Succeed("download skipped: " + *video.FilePath)
	}

	resolution := video.Resolution
	if resolution == "" {
		resolution = r.cfg.DefaultResolution
	}

	if err := r.store.SetVideoStatus(video.ID, store.VideoDownloading, "Downloading Source Video"); err != nil {
		log.Printf("⚠️  Failed to stamp download start for video %d: %v", video.ID, err)
	}

	filenameBase := fmt.Sprintf("video_%d", video.ID)
	path, err := r.downloader.Download(ctx, video.SourceURL, filenameBase, resolution)
	if err != nil {
		return Retryable(fmt.Errorf("download %s: %w", video.SourceURL, err))
	}

	// The downloaded container may differ from any previously recorded
	// extension; the row always tracks the actual file.
	if err := r.store.SetVideoPath(video.ID, path); err != nil {
		if errors.Is(err, store.ErrPathConflict) {
			return Terminal(fmt.Errorf("downloaded path for video %d: %w", video.ID, err))
		}
		return Terminal(fmt.Errorf("record path for video %d: %w", video.ID, err))
	}
	if err := r.store.SetVideoStatus(video.ID, store.VideoProcessed, "Ready for Clipping"); err != nil {
		return Terminal(fmt.Errorf("stamp download result for video %d: %w", video.ID, err))
	}
	return Succeed("downloaded to " + path)
}
