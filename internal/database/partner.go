package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pbxlink/pbxlink/internal/database/models"
)

// partnerRepo implements PartnerRepository.
type partnerRepo struct {
	db *DB
}

// NewPartnerRepository creates a new PartnerRepository.
func NewPartnerRepository(db *DB) PartnerRepository {
	return &partnerRepo{db: db}
}

const partnerColumns = `id, name, phone, mobile, country_code, tags, user_id, created_at, updated_at`

// Create inserts a new partner.
func (r *partnerRepo) Create(ctx context.Context, p *models.Partner) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO partners (name, phone, mobile, country_code, tags, user_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.Name, p.Phone, p.Mobile, p.CountryCode, p.Tags, p.UserID,
	)
	if err != nil {
		return fmt.Errorf("inserting partner: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	p.ID = id
	return nil
}

// GetByID returns a partner by ID.
func (r *partnerRepo) GetByID(ctx context.Context, id int64) (*models.Partner, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+partnerColumns+` FROM partners WHERE id = ?`, id,
	))
}

// SearchByNumber finds the partner whose phone or mobile matches the given
// number. Non-digit characters are ignored; if no exact match exists, the
// last 7 digits are compared as a suffix to tolerate differing prefixes
// (country code, leading zeros). Returns nil if no partner matches.
func (r *partnerRepo) SearchByNumber(ctx context.Context, number string) (*models.Partner, error) {
	digits := stripNonDigits(number)
	if digits == "" {
		return nil, nil
	}

	p, err := r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+partnerColumns+` FROM partners WHERE phone = ? OR mobile = ? LIMIT 1`,
		number, number,
	))
	if err != nil || p != nil {
		return p, err
	}

	suffix := digits
	if len(suffix) > 7 {
		suffix = suffix[len(suffix)-7:]
	}
	pattern := "%" + suffix

	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+partnerColumns+` FROM partners
		 WHERE replace(replace(replace(replace(phone, ' ', ''), '-', ''), '(', ''), ')', '') LIKE ?
		 OR replace(replace(replace(replace(mobile, ' ', ''), '-', ''), '(', ''), ')', '') LIKE ?
		 LIMIT 1`,
		pattern, pattern,
	))
}

// List returns all partners ordered by name.
func (r *partnerRepo) List(ctx context.Context) ([]models.Partner, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+partnerColumns+` FROM partners ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing partners: %w", err)
	}
	defer rows.Close()

	var partners []models.Partner
	for rows.Next() {
		var p models.Partner
		if err := rows.Scan(&p.ID, &p.Name, &p.Phone, &p.Mobile, &p.CountryCode,
			&p.Tags, &p.UserID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning partner row: %w", err)
		}
		partners = append(partners, p)
	}
	return partners, rows.Err()
}

// Update modifies an existing partner.
func (r *partnerRepo) Update(ctx context.Context, p *models.Partner) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE partners SET name = ?, phone = ?, mobile = ?, country_code = ?,
		 tags = ?, user_id = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		p.Name, p.Phone, p.Mobile, p.CountryCode, p.Tags, p.UserID, p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating partner: %w", err)
	}
	return nil
}

// Delete removes a partner.
func (r *partnerRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM partners WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting partner: %w", err)
	}
	return nil
}

// PostMessage appends an activity message to a partner.
func (r *partnerRepo) PostMessage(ctx context.Context, partnerID int64, body string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO partner_messages (partner_id, body) VALUES (?, ?)",
		partnerID, body,
	)
	if err != nil {
		return fmt.Errorf("posting partner message: %w", err)
	}
	return nil
}

// ListMessages returns a partner's activity messages, newest first.
func (r *partnerRepo) ListMessages(ctx context.Context, partnerID int64) ([]models.PartnerMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, partner_id, body, created_at FROM partner_messages
		 WHERE partner_id = ? ORDER BY created_at DESC, id DESC`, partnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing partner messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.PartnerMessage
	for rows.Next() {
		var m models.PartnerMessage
		if err := rows.Scan(&m.ID, &m.PartnerID, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning partner message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *partnerRepo) scanOne(row *sql.Row) (*models.Partner, error) {
	var p models.Partner
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.Mobile, &p.CountryCode,
		&p.Tags, &p.UserID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning partner: %w", err)
	}
	return &p, nil
}

// stripNonDigits removes every non-digit rune from a phone number.
func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
