package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ContactStatus enumerates the subscription states of a contact.
type ContactStatus string

const (
	ContactActive       ContactStatus = "active"
	ContactUnsubscribed ContactStatus = "unsubscribed"
	ContactBounced      ContactStatus = "bounced"
	ContactUnknown      ContactStatus = "unknown"
)

// Valid reports whether s is one of the enumerated contact states.
func (s ContactStatus) Valid() bool {
	switch s {
	case ContactActive, ContactUnsubscribed, ContactBounced, ContactUnknown:
		return true
	}
	return false
}

// Contact is an independent address-book entry. Campaigns reference contacts
// through recipient rows but never own them.
type Contact struct {
	ID           string        `json:"id" db:"id"`
	Name         string        `json:"name" db:"name"`
	Email        string        `json:"email" db:"email"`
	Status       ContactStatus `json:"status" db:"status"`
	SubscribedAt *time.Time    `json:"subscribed_at" db:"subscribed_at"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

// MailAddress is the slice of a contact a delivery needs: where to send and
// what to call the recipient.
type MailAddress struct {
	Email string
	Name  string
}

var contactEmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that the (already normalized) address is plausible.
func ValidateEmail(email string) error {
	if !contactEmailRegex.MatchString(email) {
		return fmt.Errorf("invalid email address %q", email)
	}
	return nil
}
