package store

import (
	"time"
	"unicode/utf8"
)

// Video statuses cover the whole job lifecycle. Processed means the source
// file is on disk and clipping can start.
const (
	VideoPending     = "Pending"
	VideoQueued      = "Queued"
	VideoDownloading = "Downloading"
	VideoProcessing  = "Processing"
	VideoProcessed   = "Processed"
	VideoError       = "Error"
)

// Clip statuses. Failed is absorbing; everything between Pending and
// Completed names the step currently running.
const (
	ClipPending            = "Pending"
	ClipProcessing         = "Processing"
	ClipCutting            = "Cutting"
	ClipEditing            = "Editing"
	ClipExtractingAudio    = "Extracting Audio"
	ClipTranscribing       = "Transcribing"
	ClipSavingTranscript   = "Saving Transcript"
	ClipGeneratingMetadata = "Generating Metadata"
	ClipSavingMetadata     = "Saving Metadata"
	ClipCompleted          = "Completed"
	ClipFailed             = "Failed"
)

// Clip types.
const (
	ClipTypeBatch  = "batch"
	ClipTypeManual = "manual"
	ClipTypeShort  = "short"
)

// Agent run statuses.
const (
	RunPending = "Pending"
	RunRunning = "Running"
	RunSuccess = "Success"
	RunFailed  = "Failed"
)

// Storage bounds for free-text fields.
const (
	maxVideoError  = 3000
	maxRunError    = 2000
	maxRunPreview  = 500
	maxRecordError = 2000
)

// Video is one submitted job. SourceURL is unique so resubmitting the same
// URL can never create a second row; FilePath is a pointer so unset paths
// do not collide on the unique index.
type Video struct {
	ID               uint    `gorm:"primaryKey" json:"id"`
	SourceURL        string  `gorm:"uniqueIndex;not null" json:"source_url"`
	Title            string  `json:"title"`
	Resolution       string  `json:"resolution"`
	Status           string  `gorm:"default:Pending;index" json:"status"`
	ProcessingStatus string  `gorm:"default:Added" json:"processing_status"`
	FilePath         *string `gorm:"uniqueIndex" json:"file_path,omitempty"`
	ErrorMessage     string  `json:"error_message,omitempty"`
	ManualTimestamps string  `json:"manual_timestamps,omitempty"`

	Clips     []Clip     `gorm:"constraint:OnDelete:CASCADE" json:"clips,omitempty"`
	AgentRuns []AgentRun `gorm:"constraint:OnDelete:CASCADE" json:"agent_runs,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clip is one cut segment of a video.
type Clip struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	VideoID      uint    `gorm:"index;not null" json:"video_id"`
	ClipPath     string  `gorm:"uniqueIndex;not null" json:"clip_path"`
	StartTime    float64 `gorm:"not null" json:"start_time"`
	EndTime      float64 `gorm:"not null" json:"end_time"`
	ClipType     string  `gorm:"default:batch" json:"clip_type"`
	Status       string  `gorm:"default:Pending;index" json:"status"`
	ErrorMessage string  `json:"error_message,omitempty"`

	Transcript *ClipTranscript `gorm:"constraint:OnDelete:CASCADE" json:"transcript,omitempty"`
	Metadata   *ClipMetadata   `gorm:"constraint:OnDelete:CASCADE" json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Segment is one timed line of a transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ClipTranscript holds the ordered transcript for exactly one clip. Its
// status is independent of the clip's so a transcript failure never
// corrupts clip identity.
type ClipTranscript struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ClipID       uint      `gorm:"uniqueIndex;not null" json:"clip_id"`
	Segments     []Segment `gorm:"serializer:json" json:"segments"`
	Status       string    `gorm:"default:Pending" json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ClipMetadata holds generated title/description/keywords for one clip.
type ClipMetadata struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ClipID       uint      `gorm:"uniqueIndex;not null" json:"clip_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Keywords     []string  `gorm:"serializer:json" json:"keywords"`
	Status       string    `gorm:"default:Pending" json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AgentRun is one row per dispatched unit of work. A retried attempt
// transitions the same row; it never inserts a second one.
type AgentRun struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	VideoID       uint       `gorm:"index;not null" json:"video_id"`
	AgentType     string     `gorm:"not null" json:"agent_type"`
	TargetID      string     `json:"target_id,omitempty"`
	Status        string     `gorm:"not null;index" json:"status"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	ResultPreview string     `json:"result_preview,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Speaker is the reference table of people appearing in source footage.
type Speaker struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"uniqueIndex;not null" json:"name"`
	Constituency string    `json:"constituency,omitempty"`
	Party        string    `json:"party,omitempty"`
	Active       bool      `gorm:"default:true" json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GeneratedMetadata is the metadata tool service's output before it is
// persisted against a clip.
type GeneratedMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

// truncate caps s at max bytes, backing off to a rune boundary so a cut
// never leaves invalid UTF-8 behind.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
