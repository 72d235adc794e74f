package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/outreach/internal/model"
)

const contactColumns = `
	id, list_id, email, first_name, last_name, company, title,
	custom_fields, created_at`

// CreateContact inserts a contact. The email is normalized to lowercase,
// so the (list, email) uniqueness is case-insensitive.
func (s *SQLiteStore) CreateContact(ctx context.Context, c model.Contact) (*model.Contact, error) {
	c.Email = model.NormalizeEmail(c.Email)
	if c.Email == "" {
		return nil, fmt.Errorf("contact email must not be empty")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now().UTC()

	fields := c.CustomFields
	if fields == nil {
		fields = map[string]string{}
	}
	customJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshaling custom fields: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contacts (`+contactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ListID, c.Email, c.FirstName, c.LastName, c.Company, c.Title,
		string(customJSON), c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating contact %s: %w", c.Email, err)
	}
	return &c, nil
}

// GetContact retrieves a contact by ID.
func (s *SQLiteStore) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+contactColumns+" FROM contacts WHERE id = ?", id)
	c, err := scanContact(row)
	if err != nil {
		return nil, notFound(err, "getting contact %s", id)
	}
	return &c, nil
}

// FindContactByEmail returns the most recently created contact with the
// given address in any list.
func (s *SQLiteStore) FindContactByEmail(ctx context.Context, email string) (*model.Contact, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+contactColumns+" FROM contacts WHERE email = ? ORDER BY created_at DESC LIMIT 1",
		model.NormalizeEmail(email))
	c, err := scanContact(row)
	if err != nil {
		return nil, notFound(err, "finding contact %s", email)
	}
	return &c, nil
}

// FindContactsByEmail returns every contact with the given address,
// newest first.
func (s *SQLiteStore) FindContactsByEmail(ctx context.Context, email string) ([]model.Contact, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT "+contactColumns+" FROM contacts WHERE email = ? ORDER BY created_at DESC",
		model.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("querying contacts for %s: %w", email, err)
	}
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning contact row: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// scanContact scans a contact row selected with contactColumns.
func scanContact(row rowScanner) (model.Contact, error) {
	var (
		c          model.Contact
		customJSON string
	)
	err := row.Scan(
		&c.ID, &c.ListID, &c.Email, &c.FirstName, &c.LastName, &c.Company, &c.Title,
		&customJSON, &c.CreatedAt,
	)
	if err != nil {
		return model.Contact{}, err
	}
	if customJSON != "" {
		if err := json.Unmarshal([]byte(customJSON), &c.CustomFields); err != nil {
			return model.Contact{}, fmt.Errorf("unmarshaling custom fields: %w", err)
		}
	}
	return c, nil
}
