package store

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrPathConflict is returned when a file path is already claimed by
// another row. It is a terminal condition, never retried.
var ErrPathConflict = errors.New("file path already claimed by another record")

// ErrNotFound mirrors gorm.ErrRecordNotFound for callers outside this package.
var ErrNotFound = gorm.ErrRecordNotFound

var memSeq atomic.Int64

// Store is the durable job store. Every mutation is a single statement or
// a short transaction scoped to one entity row.
type Store struct {
	db *gorm.DB
}

// Open connects to the sqlite database at path, enables WAL and foreign
// keys, and migrates the schema. Both pragmas ride in the DSN: SQLite
// enforces foreign keys per connection, so every connection the pool
// hands out must apply them, not just the first.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens a throwaway database, used by tests. Each call gets
// its own database; cache=shared only spans the connections of one pool.
func OpenInMemory() (*Store, error) {
	name := fmt.Sprintf("file:mem%d?mode=memory&cache=shared&_foreign_keys=on", memSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(name), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(
		&Video{}, &Clip{}, &ClipTranscript{}, &ClipMetadata{}, &AgentRun{}, &Speaker{},
	); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// ======================================
// === Videos ===
// ======================================

// CreateVideo inserts a new job row. Submitting an already-known URL
// returns the existing row with created=false and leaves its title and
// resolution untouched.
func (s *Store) CreateVideo(url, title, resolution string) (*Video, bool, error) {
	v := &Video{
		SourceURL:        url,
		Title:            title,
		Resolution:       resolution,
		Status:           VideoPending,
		ProcessingStatus: "Added",
	}
	err := s.db.Create(v).Error
	if err == nil {
		return v, true, nil
	}
	if isUniqueViolation(err) {
		existing, lookupErr := s.VideoByURL(url)
		if lookupErr != nil {
			return nil, false, fmt.Errorf("duplicate URL but lookup failed: %w", lookupErr)
		}
		log.Printf("Video with URL %q already exists (id=%d)", url, existing.ID)
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("create video for %s: %w", url, err)
}

// Video fetches a job by id.
func (s *Store) Video(id uint) (*Video, error) {
	var v Video
	if err := s.db.First(&v, id).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// VideoExists reports whether the job row is still present.
func (s *Store) VideoExists(id uint) bool {
	var n int64
	s.db.Model(&Video{}).Where("id = ?", id).Count(&n)
	return n > 0
}

// VideoByURL fetches a job by its source URL.
func (s *Store) VideoByURL(url string) (*Video, error) {
	var v Video
	if err := s.db.Where("source_url = ?", url).First(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// Videos lists all jobs, newest first.
func (s *Store) Videos() ([]Video, error) {
	var vs []Video
	err := s.db.Order("created_at DESC").Find(&vs).Error
	return vs, err
}

// VideoDetail fetches a job with its clips (including transcript and
// metadata) and agent runs preloaded.
func (s *Store) VideoDetail(id uint) (*Video, error) {
	var v Video
	err := s.db.
		Preload("Clips", func(db *gorm.DB) *gorm.DB { return db.Order("start_time ASC") }).
		Preload("Clips.Transcript").
		Preload("Clips.Metadata").
		Preload("AgentRuns", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC") }).
		First(&v, id).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// StatusProjection is the read-only view the Caller polls.
type StatusProjection struct {
	ID               uint      `json:"id"`
	Status           string    `json:"status"`
	ProcessingStatus string    `json:"processing_status"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// VideosByStatuses returns the poll projection for jobs in any of the
// given statuses, straight from the database with no caching.
func (s *Store) VideosByStatuses(statuses []string) ([]StatusProjection, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	var out []StatusProjection
	err := s.db.Model(&Video{}).
		Where("status IN ?", statuses).
		Order("updated_at DESC").
		Find(&out).Error
	return out, err
}

// VideosWithErrors lists jobs currently in Error status, newest first.
func (s *Store) VideosWithErrors() ([]Video, error) {
	var vs []Video
	err := s.db.Where("status = ?", VideoError).Order("updated_at DESC").Find(&vs).Error
	return vs, err
}

// SetVideoStatus updates the overall status and/or step label. Empty
// strings leave the corresponding field alone.
func (s *Store) SetVideoStatus(id uint, status, processingStatus string) error {
	updates := map[string]any{}
	if status != "" {
		updates["status"] = status
	}
	if processingStatus != "" {
		updates["processing_status"] = processingStatus
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.Model(&Video{}).Where("id = ?", id).Updates(updates).Error
}

// MarkVideoError flips a job to Error with a truncated message and the
// step it failed in.
func (s *Store) MarkVideoError(id uint, errMsg, step string) error {
	if step == "" {
		step = "Processing Error"
	}
	return s.db.Model(&Video{}).Where("id = ?", id).Updates(map[string]any{
		"status":            VideoError,
		"processing_status": step,
		"error_message":     truncate(errMsg, maxVideoError),
	}).Error
}

// SetVideoPath records the final on-disk location of the source file.
// A unique-index collision means another job already owns that path.
func (s *Store) SetVideoPath(id uint, path string) error {
	err := s.db.Model(&Video{}).Where("id = ?", id).Update("file_path", path).Error
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrPathConflict, path)
	}
	return err
}

// SetManualTimestamps keeps the raw batch-cut request for reference.
func (s *Store) SetManualTimestamps(id uint, raw string) error {
	return s.db.Model(&Video{}).Where("id = ?", id).Update("manual_timestamps", raw).Error
}

// ResetForReprocess prepares a job for resubmission: status back to
// Pending, error cleared, agent run history removed. Clips and their
// transcripts/metadata stay until the job itself is deleted.
func (s *Store) ResetForReprocess(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Video{}).Where("id = ?", id).Updates(map[string]any{
			"status":            VideoPending,
			"processing_status": "Reprocessing Requested",
			"error_message":     "",
			"manual_timestamps": "",
		}).Error; err != nil {
			return err
		}
		return tx.Where("video_id = ?", id).Delete(&AgentRun{}).Error
	})
}

// DeleteVideos removes jobs and, via cascades, everything they own. It
// returns the file paths the deleted rows referenced so the caller can
// clean up the disk, and the number of rows deleted.
func (s *Store) DeleteVideos(ids []uint) (paths []string, deleted int64, err error) {
	if len(ids) == 0 {
		return nil, 0, nil
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var vs []Video
		if err := tx.Where("id IN ?", ids).Find(&vs).Error; err != nil {
			return err
		}
		for _, v := range vs {
			if v.FilePath != nil && *v.FilePath != "" {
				paths = append(paths, *v.FilePath)
			}
		}
		var clipPaths []string
		if err := tx.Model(&Clip{}).Where("video_id IN ?", ids).
			Pluck("clip_path", &clipPaths).Error; err != nil {
			return err
		}
		paths = append(paths, clipPaths...)

		res := tx.Where("id IN ?", ids).Delete(&Video{})
		deleted = res.RowsAffected
		return res.Error
	})
	return paths, deleted, err
}

// ======================================
// === Clips ===
// ======================================

// CreateClip inserts a clip row. If the path already exists (a repeated
// dispatch for the same segment), the existing row is reset and reused.
func (s *Store) CreateClip(videoID uint, path string, start, end float64, clipType, status string) (*Clip, error) {
	c := &Clip{
		VideoID:   videoID,
		ClipPath:  path,
		StartTime: start,
		EndTime:   end,
		ClipType:  clipType,
		Status:    status,
	}
	err := s.db.Create(c).Error
	if err == nil {
		return c, nil
	}
	if isUniqueViolation(err) {
		existing, lookupErr := s.ClipByPath(path)
		if lookupErr != nil {
			return nil, fmt.Errorf("duplicate clip path but lookup failed: %w", lookupErr)
		}
		if err := s.SetClipStatus(existing.ID, status, ""); err != nil {
			return nil, err
		}
		existing.Status = status
		existing.ErrorMessage = ""
		return existing, nil
	}
	return nil, fmt.Errorf("create clip for video %d: %w", videoID, err)
}

// Clip fetches one clip by id.
func (s *Store) Clip(id uint) (*Clip, error) {
	var c Clip
	if err := s.db.First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ClipByPath fetches one clip by its output path.
func (s *Store) ClipByPath(path string) (*Clip, error) {
	var c Clip
	if err := s.db.Where("clip_path = ?", path).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ClipsForVideo lists a job's clips ordered by start time, with
// transcript and metadata preloaded.
func (s *Store) ClipsForVideo(videoID uint) ([]Clip, error) {
	var cs []Clip
	err := s.db.Where("video_id = ?", videoID).
		Preload("Transcript").
		Preload("Metadata").
		Order("start_time ASC").
		Find(&cs).Error
	return cs, err
}

// SetClipStatus updates one clip's status and error message.
func (s *Store) SetClipStatus(id uint, status, errMsg string) error {
	return s.db.Model(&Clip{}).Where("id = ?", id).Updates(map[string]any{
		"status":        status,
		"error_message": truncate(errMsg, maxRecordError),
	}).Error
}

// SetClipPath moves a clip record to a new file path (after an edit
// produced a replacement file). Path collisions are terminal.
func (s *Store) SetClipPath(id uint, path string) error {
	err := s.db.Model(&Clip{}).Where("id = ?", id).Update("clip_path", path).Error
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrPathConflict, path)
	}
	return err
}

// ======================================
// === Transcripts & metadata ===
// ======================================

// UpsertTranscript stores a clip's transcript, replacing any prior record
// and clearing its error.
func (s *Store) UpsertTranscript(clipID uint, segments []Segment) error {
	t := ClipTranscript{
		ClipID:   clipID,
		Segments: segments,
		Status:   ClipCompleted,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "clip_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"segments":      t.Segments,
			"status":        ClipCompleted,
			"error_message": "",
		}),
	}).Create(&t).Error
}

// SetTranscriptStatus records a transcript failure (or other status)
// without touching stored segments, creating the row if needed.
func (s *Store) SetTranscriptStatus(clipID uint, status, errMsg string) error {
	t := ClipTranscript{ClipID: clipID, Status: status, ErrorMessage: truncate(errMsg, maxRecordError)}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "clip_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"status":        status,
			"error_message": t.ErrorMessage,
		}),
	}).Create(&t).Error
}

// Transcript fetches the transcript for a clip, if any.
func (s *Store) Transcript(clipID uint) (*ClipTranscript, error) {
	var t ClipTranscript
	if err := s.db.Where("clip_id = ?", clipID).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// UpsertMetadata stores a clip's generated metadata with the same
// replace-and-clear-error semantics as transcripts.
func (s *Store) UpsertMetadata(clipID uint, md GeneratedMetadata) error {
	m := ClipMetadata{
		ClipID:      clipID,
		Title:       md.Title,
		Description: md.Description,
		Keywords:    md.Keywords,
		Status:      ClipCompleted,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "clip_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"title":         m.Title,
			"description":   m.Description,
			"keywords":      m.Keywords,
			"status":        ClipCompleted,
			"error_message": "",
		}),
	}).Create(&m).Error
}

// SetMetadataStatus records a metadata failure without clearing stored fields.
func (s *Store) SetMetadataStatus(clipID uint, status, errMsg string) error {
	m := ClipMetadata{ClipID: clipID, Status: status, ErrorMessage: truncate(errMsg, maxRecordError)}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "clip_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"status":        status,
			"error_message": m.ErrorMessage,
		}),
	}).Create(&m).Error
}

// Metadata fetches the metadata record for a clip, if any.
func (s *Store) Metadata(clipID uint) (*ClipMetadata, error) {
	var m ClipMetadata
	if err := s.db.Where("clip_id = ?", clipID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ======================================
// === Agent runs ===
// ======================================

// BeginRun appends a ledger row in Pending before any work starts.
func (s *Store) BeginRun(videoID uint, agentType, targetID string) (uint, error) {
	r := &AgentRun{
		VideoID:   videoID,
		AgentType: agentType,
		TargetID:  targetID,
		Status:    RunPending,
	}
	if err := s.db.Create(r).Error; err != nil {
		return 0, fmt.Errorf("create agent run for video %d: %w", videoID, err)
	}
	return r.ID, nil
}

// StartRun flips a ledger row to Running and stamps its start time. A
// retried attempt calls this on the same row it opened before.
func (s *Store) StartRun(runID uint) error {
	now := time.Now().UTC()
	return s.db.Model(&AgentRun{}).Where("id = ?", runID).Updates(map[string]any{
		"status":     RunRunning,
		"started_at": &now,
	}).Error
}

// FinishRun records the terminal outcome of a run. Preview and error are
// truncated to their storage bounds; the error is cleared on success.
func (s *Store) FinishRun(runID uint, status, errMsg, preview string) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":      status,
		"finished_at": &now,
	}
	if errMsg != "" {
		updates["error_message"] = truncate(errMsg, maxRunError)
	} else if status != RunFailed {
		updates["error_message"] = ""
	}
	if preview != "" {
		updates["result_preview"] = truncate(preview, maxRunPreview)
	}
	return s.db.Model(&AgentRun{}).Where("id = ?", runID).Updates(updates).Error
}

// Run fetches one ledger row.
func (s *Store) Run(id uint) (*AgentRun, error) {
	var r AgentRun
	if err := s.db.First(&r, id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// RunsForVideo lists a job's ledger rows, newest first.
func (s *Store) RunsForVideo(videoID uint) ([]AgentRun, error) {
	var rs []AgentRun
	err := s.db.Where("video_id = ?", videoID).Order("created_at DESC").Find(&rs).Error
	return rs, err
}

// ======================================
// === Speakers ===
// ======================================

// UpsertSpeaker inserts or refreshes one reference-table row by name.
func (s *Store) UpsertSpeaker(name, constituency, party string, active bool) (*Speaker, error) {
	sp := Speaker{Name: name, Constituency: constituency, Party: party, Active: active}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.Assignments(map[string]any{
			"constituency": constituency,
			"party":        party,
			"active":       active,
			"updated_at":   time.Now().UTC(),
		}),
	}).Create(&sp).Error
	if err != nil {
		return nil, err
	}
	var out Speaker
	if err := s.db.Where("name = ?", name).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// Speakers lists the reference table, optionally filtered to active rows.
func (s *Store) Speakers(activeOnly bool) ([]Speaker, error) {
	q := s.db.Order("name ASC")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var sp []Speaker
	err := q.Find(&sp).Error
	return sp, err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
