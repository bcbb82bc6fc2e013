package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pbxlink/pbxlink/internal/database/models"
)

// recordingRepo implements RecordingRepository.
type recordingRepo struct {
	db *DB
}

// NewRecordingRepository creates a new RecordingRepository.
func NewRecordingRepository(db *DB) RecordingRepository {
	return &recordingRepo{db: db}
}

const recordingColumns = `id, unique_id, call_id, channel_id, partner_id, calling_user_id,
	 answered_user_id, calling_number, called_number, answered, recording_filename,
	 recording_data, file_path, keep_forever, transcript, summary, transcription_token,
	 transcription_error, transcription_price, created_at`

// Create inserts a new recording.
func (r *recordingRepo) Create(ctx context.Context, rec *models.Recording) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO recordings (unique_id, call_id, channel_id, partner_id, calling_user_id,
		 answered_user_id, calling_number, called_number, answered, recording_filename,
		 recording_data, file_path, keep_forever, transcript, summary, transcription_token,
		 transcription_error, transcription_price)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UniqueID, rec.CallID, rec.ChannelID, rec.PartnerID, rec.CallingUserID,
		rec.AnsweredUserID, rec.CallingNumber, rec.CalledNumber, rec.Answered,
		rec.RecordingFilename, rec.RecordingData, rec.FilePath, rec.KeepForever,
		rec.Transcript, rec.Summary, rec.TranscriptionToken,
		rec.TranscriptionError, rec.TranscriptionPrice,
	)
	if err != nil {
		return fmt.Errorf("inserting recording: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// GetByID returns a recording by ID.
func (r *recordingRepo) GetByID(ctx context.Context, id int64) (*models.Recording, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id,
	))
}

// GetByUniqueID returns the recording of the channel with the given unique id.
func (r *recordingRepo) GetByUniqueID(ctx context.Context, uniqueID string) (*models.Recording, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE unique_id = ?`, uniqueID,
	))
}

// GetByToken returns the recording holding the given transcription token.
// Returns nil if the token is empty or unknown.
func (r *recordingRepo) GetByToken(ctx context.Context, token string) (*models.Recording, error) {
	if token == "" {
		return nil, nil
	}
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE transcription_token = ?`, token,
	))
}

// List returns recordings matching the filter, along with the total count.
func (r *recordingRepo) List(ctx context.Context, filter RecordingListFilter) ([]models.Recording, int, error) {
	where := "1=1"
	args := []any{}

	if filter.Search != "" {
		where += " AND (calling_number LIKE ? OR called_number LIKE ?)"
		s := "%" + filter.Search + "%"
		args = append(args, s, s)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM recordings WHERE " + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting recordings: %w", err)
	}

	query := `SELECT ` + recordingColumns + ` FROM recordings WHERE ` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing recordings: %w", err)
	}
	defer rows.Close()

	var recs []models.Recording
	for rows.Next() {
		rec, err := scanRecordingRow(rows)
		if err != nil {
			return nil, 0, err
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating recording rows: %w", err)
	}

	return recs, total, nil
}

// Update modifies an existing recording.
func (r *recordingRepo) Update(ctx context.Context, rec *models.Recording) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE recordings SET unique_id = ?, call_id = ?, channel_id = ?, partner_id = ?,
		 calling_user_id = ?, answered_user_id = ?, calling_number = ?, called_number = ?,
		 answered = ?, recording_filename = ?, recording_data = ?, file_path = ?,
		 keep_forever = ?, transcript = ?, summary = ?, transcription_token = ?,
		 transcription_error = ?, transcription_price = ?
		 WHERE id = ?`,
		rec.UniqueID, rec.CallID, rec.ChannelID, rec.PartnerID,
		rec.CallingUserID, rec.AnsweredUserID, rec.CallingNumber, rec.CalledNumber,
		rec.Answered, rec.RecordingFilename, rec.RecordingData, rec.FilePath,
		rec.KeepForever, rec.Transcript, rec.Summary, rec.TranscriptionToken,
		rec.TranscriptionError, rec.TranscriptionPrice, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating recording: %w", err)
	}
	return nil
}

// Count returns the total number of stored recordings.
func (r *recordingRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM recordings").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting recordings: %w", err)
	}
	return count, nil
}

// Delete removes a recording.
func (r *recordingRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM recordings WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting recording: %w", err)
	}
	return nil
}

// DeleteExpired removes recordings whose call was answered more than the
// given number of days ago, skipping those flagged keep_forever. Recordings
// without an answered timestamp never expire. Returns the file paths of
// file-stored recordings so callers can remove the audio from disk.
func (r *recordingRepo) DeleteExpired(ctx context.Context, days int) ([]string, error) {
	where := `keep_forever != 'yes' AND answered IS NOT NULL
		 AND answered <= datetime('now', '-' || ? || ' days')`

	rows, err := r.db.QueryContext(ctx,
		`SELECT file_path FROM recordings WHERE file_path != '' AND `+where, days)
	if err != nil {
		return nil, fmt.Errorf("querying expired recordings: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning expired recording path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired recording rows: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, "DELETE FROM recordings WHERE "+where, days); err != nil {
		return nil, fmt.Errorf("deleting expired recordings: %w", err)
	}

	return paths, nil
}

func (r *recordingRepo) scanOne(row *sql.Row) (*models.Recording, error) {
	var rec models.Recording
	err := row.Scan(&rec.ID, &rec.UniqueID, &rec.CallID, &rec.ChannelID, &rec.PartnerID,
		&rec.CallingUserID, &rec.AnsweredUserID, &rec.CallingNumber, &rec.CalledNumber,
		&rec.Answered, &rec.RecordingFilename, &rec.RecordingData, &rec.FilePath,
		&rec.KeepForever, &rec.Transcript, &rec.Summary, &rec.TranscriptionToken,
		&rec.TranscriptionError, &rec.TranscriptionPrice, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning recording: %w", err)
	}
	return &rec, nil
}

func scanRecordingRow(rows *sql.Rows) (*models.Recording, error) {
	var rec models.Recording
	if err := rows.Scan(&rec.ID, &rec.UniqueID, &rec.CallID, &rec.ChannelID, &rec.PartnerID,
		&rec.CallingUserID, &rec.AnsweredUserID, &rec.CallingNumber, &rec.CalledNumber,
		&rec.Answered, &rec.RecordingFilename, &rec.RecordingData, &rec.FilePath,
		&rec.KeepForever, &rec.Transcript, &rec.Summary, &rec.TranscriptionToken,
		&rec.TranscriptionError, &rec.TranscriptionPrice, &rec.CreatedAt); err != nil {
		return nil, fmt.Errorf("scanning recording row: %w", err)
	}
	return &rec, nil
}
