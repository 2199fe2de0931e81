package download

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Downloader fetches source videos with yt-dlp. Output filenames are
// deterministic per (filenameBase), so a re-run finds the earlier file and
// skips the network entirely.
type Downloader struct {
	binary string
	dir    string
}

// NewDownloader creates a Downloader writing into dir.
func NewDownloader(binary, dir string) *Downloader {
	return &Downloader{binary: binary, dir: dir}
}

// Download fetches url at the requested resolution and returns the path of
// the downloaded file. If a previous attempt already produced the file, it
// is reused as-is.
func (d *Downloader) Download(ctx context.Context, url, filenameBase, resolution string) (string, error) {
	if existing, ok := d.existing(filenameBase); ok {
		log.Printf("Download skipped, file already present: %s", existing)
		return existing, nil
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	template := filepath.Join(d.dir, filenameBase+".%(ext)s")
	args := []string{
		"--no-playlist",
		"--no-progress",
		"-f", formatSelector(resolution),
		"--merge-output-format", "mp4",
		"-o", template,
		"--print", "after_move:filepath",
		url,
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("yt-dlp failed for %s: %w (%s)", url, err, lastLine(stderr.String()))
	}

	path := strings.TrimSpace(stdout.String())
	if lines := strings.Split(path, "\n"); len(lines) > 0 {
		path = strings.TrimSpace(lines[len(lines)-1])
	}
	if path == "" {
		// yt-dlp printed nothing; fall back to scanning for the output.
		if existing, ok := d.existing(filenameBase); ok {
			return existing, nil
		}
		return "", fmt.Errorf("yt-dlp succeeded for %s but produced no output path", url)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		return "", fmt.Errorf("yt-dlp reported %s but the file is missing or empty", path)
	}
	return path, nil
}

// Title asks yt-dlp for the video title without downloading.
func (d *Downloader) Title(ctx context.Context, url string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.binary, "--no-playlist", "--skip-download", "--print", "title", url)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("yt-dlp title lookup failed for %s: %w (%s)", url, err, lastLine(stderr.String()))
	}

	title := strings.TrimSpace(stdout.String())
	if title == "" {
		return "", fmt.Errorf("yt-dlp returned no title for %s", url)
	}
	return title, nil
}

// existing looks for a non-empty prior download of filenameBase.
func (d *Downloader) existing(filenameBase string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(d.dir, filenameBase+".*"))
	if err != nil {
		return "", false
	}
	for _, match := range matches {
		if strings.HasSuffix(match, ".part") || strings.HasSuffix(match, ".ytdl") {
			continue
		}
		if info, err := os.Stat(match); err == nil && info.Size() > 0 {
			return match, true
		}
	}
	return "", false
}

// formatSelector maps a resolution label like "480p" onto a yt-dlp format
// expression capped at that height.
func formatSelector(resolution string) string {
	height := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(resolution)), "p")
	if height == "" || strings.ContainsFunc(height, func(r rune) bool { return r < '0' || r > '9' }) {
		return "bestvideo+bestaudio/best"
	}
	return fmt.Sprintf("bestvideo[height<=%[1]s]+bestaudio/best[height<=%[1]s]", height)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return "no stderr captured"
	}
	return lines[len(lines)-1]
}
