package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pbxlink/pbxlink/internal/database/models"
)

// callRepo implements CallRepository.
type callRepo struct {
	db *DB
}

// NewCallRepository creates a new CallRepository.
func NewCallRepository(db *DB) CallRepository {
	return &callRepo{db: db}
}

const callColumns = `id, unique_id, server_id, calling_number, called_number, direction,
	 status, is_active, started, answered, ended, calling_user_id, answered_user_id,
	 partner_id, res_model, res_id`

// Create inserts a new call.
func (r *callRepo) Create(ctx context.Context, call *models.Call) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO calls (unique_id, server_id, calling_number, called_number, direction,
		 status, is_active, started, answered, ended, calling_user_id, answered_user_id,
		 partner_id, res_model, res_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.UniqueID, call.ServerID, call.CallingNumber, call.CalledNumber, call.Direction,
		call.Status, call.IsActive, call.Started, call.Answered, call.Ended,
		call.CallingUserID, call.AnsweredUserID, call.PartnerID, call.ResModel, call.ResID,
	)
	if err != nil {
		return fmt.Errorf("inserting call: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	call.ID = id
	return nil
}

// GetByID returns a call by ID.
func (r *callRepo) GetByID(ctx context.Context, id int64) (*models.Call, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE id = ?`, id,
	))
}

// GetByUniqueID returns the call correlated with the given unique id.
func (r *callRepo) GetByUniqueID(ctx context.Context, uniqueID string) (*models.Call, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE unique_id = ?`, uniqueID,
	))
}

// List returns calls matching the filter, along with the total count.
func (r *callRepo) List(ctx context.Context, filter CallListFilter) ([]models.Call, int, error) {
	where := "1=1"
	args := []any{}

	if filter.Direction != "" {
		where += " AND direction = ?"
		args = append(args, filter.Direction)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		where += " AND (calling_number LIKE ? OR called_number LIKE ?)"
		s := "%" + filter.Search + "%"
		args = append(args, s, s)
	}
	if filter.StartDate != "" {
		where += " AND started >= ?"
		args = append(args, filter.StartDate)
	}
	if filter.EndDate != "" {
		where += " AND started <= ?"
		args = append(args, filter.EndDate)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM calls WHERE " + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting calls: %w", err)
	}

	query := `SELECT ` + callColumns + ` FROM calls WHERE ` + where +
		` ORDER BY started DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing calls: %w", err)
	}
	defer rows.Close()

	var calls []models.Call
	for rows.Next() {
		c, err := scanCallRow(rows)
		if err != nil {
			return nil, 0, err
		}
		calls = append(calls, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating call rows: %w", err)
	}

	return calls, total, nil
}

// ListActive returns all calls still in progress.
func (r *callRepo) ListActive(ctx context.Context) ([]models.Call, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE is_active = 1 ORDER BY started DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active calls: %w", err)
	}
	defer rows.Close()

	var calls []models.Call
	for rows.Next() {
		c, err := scanCallRow(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *c)
	}
	return calls, rows.Err()
}

// CountActive returns the number of calls still in flight.
func (r *callRepo) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calls WHERE is_active = 1").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting active calls: %w", err)
	}
	return count, nil
}

// CountByStatus returns call counts grouped by status.
func (r *callRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM calls GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("counting calls by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning call count row: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Update modifies an existing call.
func (r *callRepo) Update(ctx context.Context, call *models.Call) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE calls SET unique_id = ?, server_id = ?, calling_number = ?, called_number = ?,
		 direction = ?, status = ?, is_active = ?, started = ?, answered = ?, ended = ?,
		 calling_user_id = ?, answered_user_id = ?, partner_id = ?, res_model = ?, res_id = ?
		 WHERE id = ?`,
		call.UniqueID, call.ServerID, call.CallingNumber, call.CalledNumber,
		call.Direction, call.Status, call.IsActive, call.Started, call.Answered, call.Ended,
		call.CallingUserID, call.AnsweredUserID, call.PartnerID, call.ResModel, call.ResID,
		call.ID,
	)
	if err != nil {
		return fmt.Errorf("updating call: %w", err)
	}
	return nil
}

const channelColumns = `id, call_id, server_id, user_id, channel, unique_id, linked_id,
	 is_active, cause, recording_file_path`

// CreateChannel inserts a new call channel.
func (r *callRepo) CreateChannel(ctx context.Context, ch *models.Channel) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO channels (call_id, server_id, user_id, channel, unique_id, linked_id,
		 is_active, cause, recording_file_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.CallID, ch.ServerID, ch.UserID, ch.Channel, ch.UniqueID, ch.LinkedID,
		ch.IsActive, ch.Cause, ch.RecordingFilePath,
	)
	if err != nil {
		return fmt.Errorf("inserting channel: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	ch.ID = id
	return nil
}

// GetChannelByID returns a channel by row id.
func (r *callRepo) GetChannelByID(ctx context.Context, id int64) (*models.Channel, error) {
	return scanChannel(r.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE id = ?`, id))
}

// GetChannelByUniqueID returns the channel with the given unique id.
func (r *callRepo) GetChannelByUniqueID(ctx context.Context, uniqueID string) (*models.Channel, error) {
	return scanChannel(r.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE unique_id = ?`, uniqueID))
}

func scanChannel(row *sql.Row) (*models.Channel, error) {
	var ch models.Channel
	err := row.Scan(&ch.ID, &ch.CallID, &ch.ServerID, &ch.UserID, &ch.Channel,
		&ch.UniqueID, &ch.LinkedID, &ch.IsActive, &ch.Cause, &ch.RecordingFilePath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning channel: %w", err)
	}
	return &ch, nil
}

// ListChannels returns all channels of a call.
func (r *callRepo) ListChannels(ctx context.Context, callID int64) ([]models.Channel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE call_id = ? ORDER BY id`, callID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		var ch models.Channel
		if err := rows.Scan(&ch.ID, &ch.CallID, &ch.ServerID, &ch.UserID, &ch.Channel,
			&ch.UniqueID, &ch.LinkedID, &ch.IsActive, &ch.Cause, &ch.RecordingFilePath); err != nil {
			return nil, fmt.Errorf("scanning channel row: %w", err)
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// UpdateChannel modifies an existing channel.
func (r *callRepo) UpdateChannel(ctx context.Context, ch *models.Channel) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE channels SET call_id = ?, server_id = ?, user_id = ?, channel = ?,
		 unique_id = ?, linked_id = ?, is_active = ?, cause = ?, recording_file_path = ?
		 WHERE id = ?`,
		ch.CallID, ch.ServerID, ch.UserID, ch.Channel, ch.UniqueID, ch.LinkedID,
		ch.IsActive, ch.Cause, ch.RecordingFilePath, ch.ID,
	)
	if err != nil {
		return fmt.Errorf("updating channel: %w", err)
	}
	return nil
}

// DeactivateChannels clears the active flag on all channels of a call.
func (r *callRepo) DeactivateChannels(ctx context.Context, callID int64) error {
	_, err := r.db.ExecContext(ctx, "UPDATE channels SET is_active = 0 WHERE call_id = ?", callID)
	if err != nil {
		return fmt.Errorf("deactivating channels: %w", err)
	}
	return nil
}

func (r *callRepo) scanOne(row *sql.Row) (*models.Call, error) {
	var c models.Call
	err := row.Scan(&c.ID, &c.UniqueID, &c.ServerID, &c.CallingNumber, &c.CalledNumber,
		&c.Direction, &c.Status, &c.IsActive, &c.Started, &c.Answered, &c.Ended,
		&c.CallingUserID, &c.AnsweredUserID, &c.PartnerID, &c.ResModel, &c.ResID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call: %w", err)
	}
	return &c, nil
}

func scanCallRow(rows *sql.Rows) (*models.Call, error) {
	var c models.Call
	if err := rows.Scan(&c.ID, &c.UniqueID, &c.ServerID, &c.CallingNumber, &c.CalledNumber,
		&c.Direction, &c.Status, &c.IsActive, &c.Started, &c.Answered, &c.Ended,
		&c.CallingUserID, &c.AnsweredUserID, &c.PartnerID, &c.ResModel, &c.ResID); err != nil {
		return nil, fmt.Errorf("scanning call row: %w", err)
	}
	return &c, nil
}
