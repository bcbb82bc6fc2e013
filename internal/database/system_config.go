package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"

	"github.com/pbxlink/pbxlink/internal/database/models"
)

// Well-known configuration keys.
const (
	ConfKeyRecordingStorage     = "recordings.storage"   // "db" | "filestore"
	ConfKeyRecordingsKeepDays   = "recordings.keep_days" // retention window
	ConfKeyUseMP3Encoder        = "recordings.use_mp3_encoder"
	ConfKeyMP3Bitrate           = "recordings.mp3_bitrate"
	ConfKeyMP3Quality           = "recordings.mp3_quality"
	ConfKeyTranscriptionEnabled = "transcription.enabled"
	ConfKeyTranscriptionURL     = "transcription.url"
	ConfKeySummaryPrompt        = "transcription.summary_prompt"
	ConfKeySummaryPostToPartner = "transcription.post_summary_to_partner"
	ConfKeyIPAllowlist          = "api.ip_allowlist" // comma-separated IPs/CIDRs
	ConfKeyInstanceUID          = "instance.uid"
	ConfKeyAPIKey               = "instance.api_key"
	ConfKeyIsSubscribed         = "instance.is_subscribed"
	ConfKeyIsRegistered         = "instance.is_registered"
	ConfKeyBaseURL              = "instance.base_url"
)

// systemConfigRepo implements SystemConfigRepository with an in-memory cache.
type systemConfigRepo struct {
	db    *DB
	mu    sync.RWMutex
	cache map[string]string
}

// NewSystemConfigRepository creates a new SystemConfigRepository backed by the
// given database. It loads all config into memory on creation.
func NewSystemConfigRepository(ctx context.Context, db *DB) (SystemConfigRepository, error) {
	repo := &systemConfigRepo{
		db:    db,
		cache: make(map[string]string),
	}

	if err := repo.loadAll(ctx); err != nil {
		return nil, fmt.Errorf("loading system config: %w", err)
	}

	return repo, nil
}

// Get returns the value for the given key. Returns empty string if not found.
func (r *systemConfigRepo) Get(_ context.Context, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache[key], nil
}

// GetBool returns the value for the given key interpreted as a boolean.
// Missing keys and unparseable values are false.
func (r *systemConfigRepo) GetBool(ctx context.Context, key string) (bool, error) {
	v, err := r.Get(ctx, key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, nil
	}
	return b, nil
}

// GetInt returns the value for the given key interpreted as an integer, or
// def if the key is missing or unparseable.
func (r *systemConfigRepo) GetInt(ctx context.Context, key string, def int) (int, error) {
	v, err := r.Get(ctx, key)
	if err != nil {
		return def, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, nil
	}
	return n, nil
}

// Set inserts or updates a key-value pair in both the database and cache.
func (r *systemConfigRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO system_config (key, value, updated_at)
		 VALUES (?, ?, datetime('now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("setting config %q: %w", key, err)
	}

	r.mu.Lock()
	r.cache[key] = value
	r.mu.Unlock()

	return nil
}

// GetAll returns all system config entries.
func (r *systemConfigRepo) GetAll(ctx context.Context) ([]models.SystemConfig, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, key, value, updated_at FROM system_config ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("querying system config: %w", err)
	}
	defer rows.Close()

	var configs []models.SystemConfig
	for rows.Next() {
		var c models.SystemConfig
		if err := rows.Scan(&c.ID, &c.Key, &c.Value, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning system config row: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// loadAll reads all config entries from the database into the in-memory cache.
func (r *systemConfigRepo) loadAll(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, "SELECT key, value FROM system_config")
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("querying system config: %w", err)
	}
	defer rows.Close()

	r.mu.Lock()
	defer r.mu.Unlock()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scanning config row: %w", err)
		}
		r.cache[key] = value
	}

	return rows.Err()
}
