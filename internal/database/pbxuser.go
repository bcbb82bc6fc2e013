package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pbxlink/pbxlink/internal/database/models"
)

// pbxUserRepo implements PbxUserRepository.
type pbxUserRepo struct {
	db *DB
}

// NewPbxUserRepository creates a new PbxUserRepository.
func NewPbxUserRepository(db *DB) PbxUserRepository {
	return &pbxUserRepo{db: db}
}

const pbxUserColumns = `id, exten, user_id, server_id, originate_vars, missed_calls_notify,
	 open_reference, call_popup_enabled, call_popup_is_sticky, created_at, updated_at`

// Create inserts a new PBX user mapping.
func (r *pbxUserRepo) Create(ctx context.Context, pu *models.PbxUser) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO pbx_users (exten, user_id, server_id, originate_vars, missed_calls_notify,
		 open_reference, call_popup_enabled, call_popup_is_sticky)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		pu.Exten, pu.UserID, pu.ServerID, pu.OriginateVars, pu.MissedCallsNotify,
		pu.OpenReference, pu.CallPopupEnabled, pu.CallPopupIsSticky,
	)
	if err != nil {
		return fmt.Errorf("inserting pbx user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	pu.ID = id
	return nil
}

// GetByID returns a PBX user by ID.
func (r *pbxUserRepo) GetByID(ctx context.Context, id int64) (*models.PbxUser, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+pbxUserColumns+` FROM pbx_users WHERE id = ?`, id,
	))
}

// GetByExten returns the PBX user for the given extension on a server.
func (r *pbxUserRepo) GetByExten(ctx context.Context, serverID int64, exten string) (*models.PbxUser, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+pbxUserColumns+` FROM pbx_users WHERE server_id = ? AND exten = ?`, serverID, exten,
	))
}

// GetByUserID returns the PBX user mapped to an application user on a server.
func (r *pbxUserRepo) GetByUserID(ctx context.Context, serverID, userID int64) (*models.PbxUser, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+pbxUserColumns+` FROM pbx_users WHERE server_id = ? AND user_id = ?`, serverID, userID,
	))
}

// List returns all PBX users on a server ordered by extension.
func (r *pbxUserRepo) List(ctx context.Context, serverID int64) ([]models.PbxUser, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pbxUserColumns+` FROM pbx_users WHERE server_id = ? ORDER BY exten`, serverID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing pbx users: %w", err)
	}
	defer rows.Close()

	var users []models.PbxUser
	for rows.Next() {
		pu, err := scanPbxUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *pu)
	}
	return users, rows.Err()
}

// Update modifies an existing PBX user.
func (r *pbxUserRepo) Update(ctx context.Context, pu *models.PbxUser) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pbx_users SET exten = ?, user_id = ?, server_id = ?, originate_vars = ?,
		 missed_calls_notify = ?, open_reference = ?, call_popup_enabled = ?,
		 call_popup_is_sticky = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		pu.Exten, pu.UserID, pu.ServerID, pu.OriginateVars,
		pu.MissedCallsNotify, pu.OpenReference, pu.CallPopupEnabled,
		pu.CallPopupIsSticky, pu.ID,
	)
	if err != nil {
		return fmt.Errorf("updating pbx user: %w", err)
	}
	return nil
}

// Delete removes a PBX user and its channels (via FK cascade).
func (r *pbxUserRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM pbx_users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting pbx user: %w", err)
	}
	return nil
}

const userChannelColumns = `id, name, server_id, pbx_user_id, sip_user, sip_password,
	 originate_enabled, originate_context, auto_answer_header, created_at`

// CreateChannel inserts a new SIP channel for a PBX user.
func (r *pbxUserRepo) CreateChannel(ctx context.Context, ch *models.UserChannel) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO user_channels (name, server_id, pbx_user_id, sip_user, sip_password,
		 originate_enabled, originate_context, auto_answer_header)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.Name, ch.ServerID, ch.PbxUserID, ch.SIPUser, ch.SIPPassword,
		ch.OriginateEnabled, ch.OriginateContext, ch.AutoAnswerHeader,
	)
	if err != nil {
		return fmt.Errorf("inserting user channel: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	ch.ID = id
	return nil
}

// ListChannels returns all channels of a PBX user.
func (r *pbxUserRepo) ListChannels(ctx context.Context, pbxUserID int64) ([]models.UserChannel, error) {
	return r.listChannels(ctx,
		`SELECT `+userChannelColumns+` FROM user_channels WHERE pbx_user_id = ? ORDER BY name`, pbxUserID)
}

// ListOriginateChannels returns the channels of a PBX user that are enabled
// for click-to-call origination.
func (r *pbxUserRepo) ListOriginateChannels(ctx context.Context, pbxUserID int64) ([]models.UserChannel, error) {
	return r.listChannels(ctx,
		`SELECT `+userChannelColumns+` FROM user_channels
		 WHERE pbx_user_id = ? AND originate_enabled = 1 ORDER BY name`, pbxUserID)
}


// DeleteChannel removes a user channel.
func (r *pbxUserRepo) DeleteChannel(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM user_channels WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting user channel: %w", err)
	}
	return nil
}

func (r *pbxUserRepo) listChannels(ctx context.Context, query string, args ...any) ([]models.UserChannel, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing user channels: %w", err)
	}
	defer rows.Close()

	var channels []models.UserChannel
	for rows.Next() {
		var ch models.UserChannel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.ServerID, &ch.PbxUserID, &ch.SIPUser,
			&ch.SIPPassword, &ch.OriginateEnabled, &ch.OriginateContext,
			&ch.AutoAnswerHeader, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning user channel row: %w", err)
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

func (r *pbxUserRepo) scanOne(row *sql.Row) (*models.PbxUser, error) {
	var pu models.PbxUser
	err := row.Scan(&pu.ID, &pu.Exten, &pu.UserID, &pu.ServerID, &pu.OriginateVars,
		&pu.MissedCallsNotify, &pu.OpenReference, &pu.CallPopupEnabled,
		&pu.CallPopupIsSticky, &pu.CreatedAt, &pu.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning pbx user: %w", err)
	}
	return &pu, nil
}

func scanPbxUser(rows *sql.Rows) (*models.PbxUser, error) {
	var pu models.PbxUser
	if err := rows.Scan(&pu.ID, &pu.Exten, &pu.UserID, &pu.ServerID, &pu.OriginateVars,
		&pu.MissedCallsNotify, &pu.OpenReference, &pu.CallPopupEnabled,
		&pu.CallPopupIsSticky, &pu.CreatedAt, &pu.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scanning pbx user row: %w", err)
	}
	return &pu, nil
}
