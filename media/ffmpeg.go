package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Tools runs the FFmpeg operations the clip pipeline needs. Every operation
// removes its own partial output on failure so a retry never finds a
// half-written file at the target path.
type Tools struct {
	timeout time.Duration
	aspect  float64
}

// NewTools creates a Tools with the given per-operation timeout and target
// aspect ratio (width/height) for vertical reframing.
func NewTools(timeout time.Duration, shortAspect float64) *Tools {
	return &Tools{timeout: timeout, aspect: shortAspect}
}

// Cut re-encodes [start, end) of src into dst. Bounds are clamped against
// the probed source duration; a clip that collapses to nothing after
// clamping is an error, not an empty file.
func (t *Tools) Cut(ctx context.Context, src, dst string, start, end float64) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("cut input missing: %w", err)
	}
	if end-start <= 0 {
		return fmt.Errorf("invalid clip range %.3fs-%.3fs", start, end)
	}

	if sourceDuration, err := t.Duration(ctx, src); err == nil {
		if start < 0 {
			start = 0
		}
		if end > sourceDuration+0.5 {
			end = sourceDuration
		}
		if end-start <= 0 {
			return fmt.Errorf("clip range %.3fs-%.3fs collapses after clamping to source duration %.3fs", start, end, sourceDuration)
		}
	}

	stream := ffmpeg.Input(src).
		Output(dst, ffmpeg.KwArgs{
			"ss":           fmt.Sprintf("%.3f", start),
			"to":           fmt.Sprintf("%.3f", end),
			"map_metadata": "-1",
			"map_chapters": "-1",
			"c:v":          "libx264",
			"preset":       "medium",
			"crf":          "23",
			"pix_fmt":      "yuv420p",
			"c:a":          "aac",
			"b:a":          "128k",
			"ac":           "2",
			"movflags":     "+faststart",
		}).
		OverWriteOutput()

	return t.run(ctx, stream, dst, fmt.Sprintf("cut %.3fs-%.3fs", start, end))
}

// AspectCrop center-crops src to the configured aspect ratio and writes the
// result to dst. Inputs already at the target ratio pass through the crop
// unchanged apart from the re-encode.
func (t *Tools) AspectCrop(ctx context.Context, src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("crop input missing: %w", err)
	}

	// Crop whichever dimension overshoots the target ratio; min() leaves
	// the other untouched.
	filter := fmt.Sprintf("crop='min(iw,ih*%[1]f)':'min(ih,iw/%[1]f)'", t.aspect)

	stream := ffmpeg.Input(src).
		Output(dst, ffmpeg.KwArgs{
			"vf":     filter,
			"c:v":    "libx264",
			"preset": "medium",
			"c:a":    "aac",
		}).
		OverWriteOutput()

	return t.run(ctx, stream, dst, fmt.Sprintf("aspect crop to %.3f", t.aspect))
}

// ExtractAudio writes src's audio track to dst as 16kHz mono PCM WAV, the
// format the transcription service expects.
func (t *Tools) ExtractAudio(ctx context.Context, src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("audio extraction input missing: %w", err)
	}

	stream := ffmpeg.Input(src).
		Output(dst, ffmpeg.KwArgs{
			"vn":     "",
			"acodec": "pcm_s16le",
			"ac":     "1",
			"ar":     "16000",
		}).
		OverWriteOutput()

	return t.run(ctx, stream, dst, "audio extraction (16000Hz, 1-ch)")
}

// Duration probes src and returns its duration in seconds.
func (t *Tools) Duration(ctx context.Context, src string) (float64, error) {
	if _, err := os.Stat(src); err != nil {
		return 0, fmt.Errorf("probe input missing: %w", err)
	}

	out, err := ffmpeg.ProbeWithTimeout(src, time.Minute, ffmpeg.KwArgs{})
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", src, err)
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal([]byte(out), &probe); err != nil {
		return 0, fmt.Errorf("parse ffprobe output for %s: %w", src, err)
	}

	duration, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned no usable duration for %s: %q", src, probe.Format.Duration)
	}
	if duration < 0 {
		return 0, fmt.Errorf("ffprobe returned negative duration %.3fs for %s", duration, src)
	}
	return duration, nil
}

// run executes a compiled stream under the configured timeout, validating
// the output file afterwards.
func (t *Tools) run(ctx context.Context, stream *ffmpeg.Stream, output, description string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := stream.Silent(true).Compile()
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg for %s: %w", description, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		cmd.Process.Kill()
		<-done
		removePartial(output)
		return fmt.Errorf("ffmpeg %s timed out after %s", description, time.Since(started).Round(time.Second))
	case err := <-done:
		if err != nil {
			removePartial(output)
			return fmt.Errorf("ffmpeg %s failed: %w (%s)", description, err, stderrHint(stderr.String()))
		}
	}

	info, err := os.Stat(output)
	if err != nil {
		return fmt.Errorf("ffmpeg %s reported success but output %s is missing", description, output)
	}
	if info.Size() == 0 {
		removePartial(output)
		return fmt.Errorf("ffmpeg %s reported success but output %s is empty", description, output)
	}
	return nil
}

func removePartial(path string) {
	if path != "" {
		os.Remove(path)
	}
}

// stderrHint pulls the most informative tail out of ffmpeg's stderr.
func stderrHint(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		lower := strings.ToLower(lines[i])
		if strings.Contains(lower, "error") || strings.Contains(lower, "failed") {
			return lines[i]
		}
	}
	if last := lines[len(lines)-1]; last != "" {
		return last
	}
	return "no stderr captured"
}
