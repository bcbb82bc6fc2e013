package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pbxlink/pbxlink/internal/database/models"
)

// serverRepo implements ServerRepository.
type serverRepo struct {
	db *DB
}

// NewServerRepository creates a new ServerRepository.
func NewServerRepository(db *DB) ServerRepository {
	return &serverRepo{db: db}
}

const serverColumns = `id, name, user_id, security_token, connection_mode, agent_url, nats_url,
	 agent_initialized, agent_initialization_open, auto_create_users, generate_sip_peers,
	 sip_protocol, sip_peer_template, sip_peer_start_exten, created_at, updated_at`

// Create inserts a new server. The unique constraint on user_id enforces one
// server per owning account.
func (r *serverRepo) Create(ctx context.Context, srv *models.Server) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO servers (name, user_id, security_token, connection_mode, agent_url, nats_url,
		 agent_initialized, agent_initialization_open, auto_create_users, generate_sip_peers,
		 sip_protocol, sip_peer_template, sip_peer_start_exten)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		srv.Name, srv.UserID, srv.SecurityToken, srv.ConnectionMode, srv.AgentURL, srv.NATSURL,
		srv.AgentInitialized, srv.AgentInitializationOpen, srv.AutoCreateUsers, srv.GenerateSIPPeers,
		srv.SIPProtocol, srv.SIPPeerTemplate, srv.SIPPeerStartExten,
	)
	if err != nil {
		return fmt.Errorf("inserting server: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	srv.ID = id
	return nil
}

// GetByID returns a server by ID.
func (r *serverRepo) GetByID(ctx context.Context, id int64) (*models.Server, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE id = ?`, id,
	))
}

// GetByUserID returns the server owned by the given user account.
func (r *serverRepo) GetByUserID(ctx context.Context, userID int64) (*models.Server, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE user_id = ?`, userID,
	))
}

// GetDefault returns the first configured server. Single-server deployments
// use this everywhere a server is implied.
func (r *serverRepo) GetDefault(ctx context.Context) (*models.Server, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers ORDER BY id LIMIT 1`,
	))
}

// Update modifies an existing server.
func (r *serverRepo) Update(ctx context.Context, srv *models.Server) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE servers SET name = ?, user_id = ?, security_token = ?, connection_mode = ?,
		 agent_url = ?, nats_url = ?, agent_initialized = ?, agent_initialization_open = ?,
		 auto_create_users = ?, generate_sip_peers = ?, sip_protocol = ?,
		 sip_peer_template = ?, sip_peer_start_exten = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		srv.Name, srv.UserID, srv.SecurityToken, srv.ConnectionMode,
		srv.AgentURL, srv.NATSURL, srv.AgentInitialized, srv.AgentInitializationOpen,
		srv.AutoCreateUsers, srv.GenerateSIPPeers, srv.SIPProtocol,
		srv.SIPPeerTemplate, srv.SIPPeerStartExten, srv.ID,
	)
	if err != nil {
		return fmt.Errorf("updating server: %w", err)
	}
	return nil
}

func (r *serverRepo) scanOne(row *sql.Row) (*models.Server, error) {
	var s models.Server
	err := row.Scan(&s.ID, &s.Name, &s.UserID, &s.SecurityToken, &s.ConnectionMode,
		&s.AgentURL, &s.NATSURL, &s.AgentInitialized, &s.AgentInitializationOpen,
		&s.AutoCreateUsers, &s.GenerateSIPPeers, &s.SIPProtocol,
		&s.SIPPeerTemplate, &s.SIPPeerStartExten, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning server: %w", err)
	}
	return &s, nil
}
