package model

import (
	"strings"
	"time"
)

// Contact is a recipient in a contact list.
type Contact struct {
	ID        string `json:"id" db:"id"`
	ListID    string `json:"list_id" db:"list_id"`
	Email     string `json:"email" db:"email"`
	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`
	Company   string `json:"company" db:"company"`
	Title     string `json:"title" db:"title"`

	// CustomFields holds arbitrary values addressable by merge tags.
	CustomFields map[string]string `json:"custom_fields,omitempty" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// FullName joins the first and last name.
func (c Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// NormalizeEmail lowercases and trims an address. All lookups and
// writes of email addresses go through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
