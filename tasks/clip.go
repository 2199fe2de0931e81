package tasks

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"clipsmith/queue"
	"clipsmith/store"
)

// processClip runs the per-clip step machine: cut, edit (short clips
// only), extract audio, transcribe, save transcript, then best-effort
// metadata and archive. Any step failure short-circuits the rest; the
// clip row records which step failed and why.
func (r *Runner) processClip(ctx context.Context, env queue.Envelope) Outcome {
	clip, err := r.store.CreateClip(env.VideoID, env.OutputPath, env.StartTime, env.EndTime, env.ClipType, store.ClipProcessing)
	if err != nil {
		return Terminal(fmt.Errorf("create clip record for %s: %w", filepath.Base(env.OutputPath), err))
	}

	video, err := r.store.Video(env.VideoID)
	if err != nil {
		return r.failClip(clip.ID, Terminal(fmt.Errorf("load video %d: %w", env.VideoID, err)))
	}
	if !fileUsable(video.FilePath) {
		return r.failClip(clip.ID, Terminal(fmt.Errorf("source video file missing for video %d", video.ID)))
	}
	sourcePath := *video.FilePath

	// Step 1: cut.
	r.stepStatus(clip.ID, store.ClipCutting)
	if err := r.media.Cut(ctx, sourcePath, env.OutputPath, env.StartTime, env.EndTime); err != nil {
		return r.failClip(clip.ID, Retryable(fmt.Errorf("cut failed: %w", err)))
	}

	// Step 2: edit, only for clip types that need reformatting.
	if env.ClipType == store.ClipTypeShort {
		r.stepStatus(clip.ID, store.ClipEditing)
		if err := r.editClip(ctx, env.OutputPath); err != nil {
			return r.failClip(clip.ID, Retryable(fmt.Errorf("edit failed: %w", err)))
		}
	}

	// Step 3: extract audio. The temp artifact is cleaned up on every
	// exit path from here on.
	r.stepStatus(clip.ID, store.ClipExtractingAudio)
	audioPath := env.OutputPath + ".wav"
	os.Remove(audioPath)
	defer func() {
		if err := os.Remove(audioPath); err != nil && !os.IsNotExist(err) {
			log.Printf("⚠️  Clip %d: failed to remove temp audio %s: %v", clip.ID, audioPath, err)
		}
	}()
	if err := r.media.ExtractAudio(ctx, env.OutputPath, audioPath); err != nil {
		return r.failClip(clip.ID, Retryable(fmt.Errorf("audio extraction failed: %w", err)))
	}

	// Step 4: transcribe.
	r.stepStatus(clip.ID, store.ClipTranscribing)
	segments, err := r.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return r.failClip(clip.ID, Retryable(fmt.Errorf("transcription failed: %w", err)))
	}

	// Step 5: save transcript. A store failure here is terminal; redoing
	// the transcription cannot fix the database.
	r.stepStatus(clip.ID, store.ClipSavingTranscript)
	if err := r.store.UpsertTranscript(clip.ID, segments); err != nil {
		if statusErr := r.store.SetTranscriptStatus(clip.ID, store.ClipFailed, err.Error()); statusErr != nil {
			log.Printf("⚠️  Clip %d: failed to record transcript failure: %v", clip.ID, statusErr)
		}
		return r.failClip(clip.ID, Terminal(fmt.Errorf("store transcript: %w", err)))
	}

	// Steps 6 and 7: metadata, best-effort on both generation and save.
	r.generateMetadata(ctx, clip.ID, segments)

	if r.archiver != nil {
		if key, err := r.archiver.Store(ctx, env.OutputPath); err != nil {
			log.Printf("⚠️  Clip %d: archive upload failed: %v", clip.ID, err)
		} else {
			log.Printf("Clip %d archived as %s", clip.ID, key)
		}
	}

	if err := r.store.SetClipStatus(clip.ID, store.ClipCompleted, ""); err != nil {
		return Terminal(fmt.Errorf("mark clip %d completed: %w", clip.ID, err))
	}
	return Succeed(fmt.Sprintf("processed clip %s (%d transcript segments)", filepath.Base(env.OutputPath), len(segments)))
}

// editClip reformats a clip in place. The crop writes to a scratch path
// first so the clip row never references a half-edited file; only a
// verified output replaces the original.
func (r *Runner) editClip(ctx context.Context, clipPath string) error {
	scratch := clipPath + ".edit.mp4"
	defer os.Remove(scratch)

	if err := r.media.AspectCrop(ctx, clipPath, scratch); err != nil {
		return err
	}
	if err := os.Rename(scratch, clipPath); err != nil {
		return fmt.Errorf("replace clip with edited output: %w", err)
	}
	return nil
}

// generateMetadata runs the best-effort metadata steps. Failures degrade
// the clip's output but never fail it.
func (r *Runner) generateMetadata(ctx context.Context, clipID uint, segments []store.Segment) {
	if r.metadata == nil {
		log.Printf("Clip %d: metadata generation disabled, skipping", clipID)
		return
	}

	texts := make([]string, 0, len(segments))
	for _, seg := range segments {
		texts = append(texts, seg.Text)
	}
	transcript := strings.TrimSpace(strings.Join(texts, " "))
	if transcript == "" {
		log.Printf("Clip %d: empty transcript, skipping metadata generation", clipID)
		return
	}

	r.stepStatus(clipID, store.ClipGeneratingMetadata)
	meta, err := r.metadata.Generate(ctx, transcript)
	if err != nil {
		log.Printf("⚠️  Clip %d: metadata generation failed, continuing: %v", clipID, err)
		if statusErr := r.store.SetMetadataStatus(clipID, store.ClipFailed, err.Error()); statusErr != nil {
			log.Printf("⚠️  Clip %d: failed to record metadata failure: %v", clipID, statusErr)
		}
		return
	}

	r.stepStatus(clipID, store.ClipSavingMetadata)
	if err := r.store.UpsertMetadata(clipID, meta); err != nil {
		log.Printf("⚠️  Clip %d: failed to store metadata, continuing: %v", clipID, err)
	}
}

// failClip marks the clip Failed with the causing error and passes the
// outcome through to the runner.
func (r *Runner) failClip(clipID uint, outcome Outcome) Outcome {
	if err := r.store.SetClipStatus(clipID, store.ClipFailed, outcome.Err.Error()); err != nil {
		log.Printf("⚠️  Failed to mark clip %d Failed: %v", clipID, err)
	}
	return outcome
}

// stepStatus advances the clip's step label, clearing any prior error.
func (r *Runner) stepStatus(clipID uint, status string) {
	if err := r.store.SetClipStatus(clipID, status, ""); err != nil {
		log.Printf("⚠️  Failed to set clip %d status %q: %v", clipID, status, err)
	}
}
