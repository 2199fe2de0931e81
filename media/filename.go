package media

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	badFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f%']`)
	runsOfSeparators = regexp.MustCompile(`[\s_]+`)
)

// SanitizeFilename makes a string safe to use as a filename: problematic
// characters become underscores, whitespace runs collapse, and the result
// is capped at maxLen bytes on a rune boundary.
func SanitizeFilename(name string, maxLen int) string {
	name = strings.Trim(strings.TrimSpace(name), "._")
	name = badFilenameChars.ReplaceAllString(name, "_")
	name = runsOfSeparators.ReplaceAllString(name, "_")

	for len(name) > maxLen {
		runes := []rune(name)
		name = strings.TrimRight(string(runes[:len(runes)-1]), "_")
	}

	if name == "" || name == "_" {
		name = "sanitized_file_" + time.Now().Format("20060102150405")
	}
	return name
}

// timeTag formats a clip boundary for embedding in a filename: one decimal,
// with the '.' swapped for 's' so the extension stays unambiguous.
func timeTag(seconds float64) string {
	return strings.ReplaceAll(fmt.Sprintf("%.1f", seconds), ".", "s")
}

// BatchClipName builds the deterministic filename for one planned segment,
// e.g. "batch_long_7_seg002_12s0-45s5.mp4". Determinism matters: redelivery
// of a dispatch message regenerates the same names and so reuses the same
// clip rows instead of inventing new ones.
func BatchClipName(clipType string, videoID uint, index int, start, end float64) string {
	return fmt.Sprintf("batch_%s_%d_seg%03d_%s-%s.mp4", clipType, videoID, index, timeTag(start), timeTag(end))
}

// ManualClipName builds the filename for a manually requested clip. The
// wall-clock suffix keeps repeated requests over the same range distinct.
func ManualClipName(videoID uint, start, end float64, contextText string, now time.Time) string {
	snippet := SanitizeFilename(contextText, 30)
	return fmt.Sprintf("manual_%d_%s-%s_%s_%s.mp4",
		videoID, timeTag(start), timeTag(end), snippet, now.Format("150405"))
}
