package tasks

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"runtime/debug"

	"clipsmith/config"
	"clipsmith/queue"
	"clipsmith/store"
)

// VideoDownloader fetches a source video and returns its final path.
type VideoDownloader interface {
	Download(ctx context.Context, url, filenameBase, resolution string) (string, error)
}

// MediaTools is the FFmpeg surface the pipeline steps use.
type MediaTools interface {
	Cut(ctx context.Context, src, dst string, start, end float64) error
	AspectCrop(ctx context.Context, src, dst string) error
	ExtractAudio(ctx context.Context, src, dst string) error
	Duration(ctx context.Context, src string) (float64, error)
}

// Transcriber turns an audio file into ordered transcript segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]store.Segment, error)
}

// MetadataGenerator produces clip metadata from transcript text.
type MetadataGenerator interface {
	Generate(ctx context.Context, transcript string) (store.GeneratedMetadata, error)
}

// Archiver copies a finished clip to long-term storage.
type Archiver interface {
	Store(ctx context.Context, clipPath string) (string, error)
}

// Runner executes task envelopes. It owns the ledger boundary: every
// envelope it handles leaves exactly one Success/Failed on its agent-run
// row, whatever happens inside the step logic.
type Runner struct {
	cfg   config.Config
	store *store.Store
	queue queue.Enqueuer

	media       MediaTools
	downloader  VideoDownloader
	transcriber Transcriber
	metadata    MetadataGenerator // nil disables metadata generation
	archiver    Archiver          // nil disables archiving
}

// RunnerConfig wires a Runner. Metadata and Archiver are optional.
type RunnerConfig struct {
	Config      config.Config
	Store       *store.Store
	Queue       queue.Enqueuer
	Media       MediaTools
	Downloader  VideoDownloader
	Transcriber Transcriber
	Metadata    MetadataGenerator
	Archiver    Archiver
}

// NewRunner creates a task runner.
func NewRunner(rc RunnerConfig) *Runner {
	return &Runner{
		cfg:         rc.Config,
		store:       rc.Store,
		queue:       rc.Queue,
		media:       rc.Media,
		downloader:  rc.Downloader,
		transcriber: rc.Transcriber,
		metadata:    rc.Metadata,
		archiver:    rc.Archiver,
	}
}

// HandleTask implements queue.TaskHandler.
func (r *Runner) HandleTask(ctx context.Context, env queue.Envelope) {
	if !r.store.VideoExists(env.VideoID) {
		log.Printf("Aborting %s task %s: video %d no longer exists", env.Kind, env.ID, env.VideoID)
		return
	}

	runID := env.RunID
	if runID == 0 {
		var err error
		runID, err = r.store.BeginRun(env.VideoID, agentType(env.Kind), targetID(env))
		if err != nil {
			log.Printf("❌ Cannot open ledger row for %s task %s: %v", env.Kind, env.ID, err)
			return
		}
		env.RunID = runID
	}
	if err := r.store.StartRun(runID); err != nil {
		log.Printf("⚠️  Failed to mark run %d Running: %v", runID, err)
	}

	outcome := r.execute(ctx, env)
	r.settle(ctx, env, outcome)
}

// execute dispatches on the closed kind set, converting panics into
// terminal failures so a defective step can never wedge a run in Running
// or crash the worker.
func (r *Runner) execute(ctx context.Context, env queue.Envelope) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("❌ Panic in %s task %s (video=%d): %v\n%s",
				env.Kind, env.ID, env.VideoID, rec, debug.Stack())
			out = Terminal(fmt.Errorf("panic in %s task: %v", env.Kind, rec))
		}
	}()

	switch env.Kind {
	case queue.KindOrchestrate:
		return r.orchestrate(ctx, env)
	case queue.KindDownload:
		return r.download(ctx, env)
	case queue.KindBatchDispatch:
		return r.batchDispatch(ctx, env)
	case queue.KindProcessClip:
		return r.processClip(ctx, env)
	}
	return Terminal(fmt.Errorf("no handler for task kind %q", env.Kind))
}

// settle records the outcome on the ledger and the owning entities, and
// re-enqueues retryable failures while their budget lasts.
func (r *Runner) settle(ctx context.Context, env queue.Envelope, outcome Outcome) {
	switch outcome.Status {
	case StatusSuccess:
		if err := r.store.FinishRun(env.RunID, store.RunSuccess, "", outcome.Preview); err != nil {
			log.Printf("⚠️  Failed to record success for run %d: %v", env.RunID, err)
		}
		log.Printf("✅ %s task %s succeeded (video=%d, run=%d)", env.Kind, env.ID, env.VideoID, env.RunID)

	case StatusRetryable:
		policy := PolicyFor(env.Kind)
		errMsg := outcome.Err.Error()
		if err := r.store.FinishRun(env.RunID, store.RunFailed, errMsg, ""); err != nil {
			log.Printf("⚠️  Failed to record failure for run %d: %v", env.RunID, err)
		}

		if env.Attempt < policy.MaxRetries {
			retry := env
			retry.Attempt++
			log.Printf("🔁 Retrying %s task %s in %s (video=%d, attempt %d/%d): %v",
				env.Kind, env.ID, policy.Delay, env.VideoID, retry.Attempt, policy.MaxRetries, outcome.Err)
			r.mirrorError(env, fmt.Sprintf("[Attempt %d] %s", env.Attempt+1, errMsg))
			if err := r.queue.EnqueueIn(ctx, retry, policy.Delay); err != nil {
				log.Printf("❌ Failed to re-enqueue %s task %s, failing terminally: %v", env.Kind, env.ID, err)
				r.mirrorError(env, errMsg)
			}
			return
		}

		log.Printf("❌ %s task %s failed after %d attempts (video=%d): %v",
			env.Kind, env.ID, env.Attempt+1, env.VideoID, outcome.Err)
		r.mirrorError(env, errMsg)

	case StatusTerminal:
		errMsg := outcome.Err.Error()
		if err := r.store.FinishRun(env.RunID, store.RunFailed, errMsg, ""); err != nil {
			log.Printf("⚠️  Failed to record failure for run %d: %v", env.RunID, err)
		}
		log.Printf("❌ %s task %s failed terminally (video=%d): %v", env.Kind, env.ID, env.VideoID, outcome.Err)
		r.mirrorError(env, errMsg)
	}
}

// mirrorError surfaces a failure on the owning entity. Clip failures stay
// on the clip row (written by the step itself); everything else marks the
// video.
func (r *Runner) mirrorError(env queue.Envelope, errMsg string) {
	if env.Kind == queue.KindProcessClip {
		return
	}
	if !r.store.VideoExists(env.VideoID) {
		return
	}
	if err := r.store.MarkVideoError(env.VideoID, errMsg, errorStep(env.Kind)); err != nil {
		log.Printf("⚠️  Failed to mark video %d Error: %v", env.VideoID, err)
	}
}

// agentType is the ledger name for a task kind.
func agentType(kind queue.Kind) string {
	switch kind {
	case queue.KindOrchestrate:
		return "orchestrator"
	case queue.KindDownload:
		return "downloader"
	case queue.KindBatchDispatch:
		return "batch_cut_dispatcher"
	case queue.KindProcessClip:
		return "clip_processor"
	}
	return string(kind)
}

// errorStep is the processing-status label stamped on a failed video.
func errorStep(kind queue.Kind) string {
	switch kind {
	case queue.KindOrchestrate:
		return "Orchestration Error"
	case queue.KindDownload:
		return "Download Error"
	case queue.KindBatchDispatch:
		return "Batch Cut Dispatch Error"
	case queue.KindProcessClip:
		return "Clip Processing Error"
	}
	return "Processing Error"
}

// targetID identifies what a run worked on, beyond the video itself.
func targetID(env queue.Envelope) string {
	if env.Kind == queue.KindProcessClip {
		return filepath.Base(env.OutputPath)
	}
	return ""
}
