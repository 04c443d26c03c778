// Package entrykey maps a calendar date and a visibility to the storage key of a
// diary entry and back. A single date holds at most one public and one private
// entry per owner, each stored under its own key.
package entrykey

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format used in record keys.
const DateLayout = "2006-01-02"

// Visibility tags an entry as shared with the family or kept to its owner.
type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

// ErrMalformedKey indicates a record key without a visibility suffix.
var ErrMalformedKey = errors.New("malformed record key")

// ErrInvalidVisibility indicates a visibility other than public or private.
var ErrInvalidVisibility = errors.New("invalid visibility")

// Key is the decoded form of a record key.
type Key struct {
	Date       string
	Visibility Visibility
}

// ParseVisibility validates a visibility string.
func ParseVisibility(s string) (Visibility, error) {
	switch Visibility(s) {
	case Public, Private:
		return Visibility(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVisibility, s)
	}
}

// VisibilityFromPublic converts the is_public flag used on the wire.
func VisibilityFromPublic(isPublic bool) Visibility {
	if isPublic {
		return Public
	}
	return Private
}

// ToRecordKey joins a date and a visibility into a record key,
// e.g. 2024-02-08 + public -> 2024-02-08-public.
func ToRecordKey(date string, visibility Visibility) string {
	return date + "-" + string(visibility)
}

// FromRecordKey strips the visibility suffix from a record key.
func FromRecordKey(key string) (Key, error) {
	for _, v := range []Visibility{Public, Private} {
		suffix := "-" + string(v)
		if date, ok := strings.CutSuffix(key, suffix); ok && date != "" {
			return Key{Date: date, Visibility: v}, nil
		}
	}
	return Key{}, fmt.Errorf("%w: %q", ErrMalformedKey, key)
}

// String returns the record key.
func (k Key) String() string {
	return ToRecordKey(k.Date, k.Visibility)
}

// IsPublic reports whether the key addresses the public entry of its date.
func (k Key) IsPublic() bool {
	return k.Visibility == Public
}

// ValidDate reports whether date is a real calendar date in YYYY-MM-DD form.
func ValidDate(date string) bool {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return false
	}
	return t.Format(DateLayout) == date
}

// Parse decodes a record key and validates its date component.
func Parse(key string) (Key, error) {
	k, err := FromRecordKey(key)
	if err != nil {
		return Key{}, err
	}
	if !ValidDate(k.Date) {
		return Key{}, fmt.Errorf("%w: invalid date %q", ErrMalformedKey, k.Date)
	}
	return k, nil
}

// OwnerPrefix prefixes usernames to form entry owner ids.
const OwnerPrefix = "user#"

// OwnerID returns the owner id for a username.
func OwnerID(username string) string {
	return OwnerPrefix + username
}

// DisplayName strips the owner prefix from an owner id.
func DisplayName(ownerID string) string {
	return strings.TrimPrefix(ownerID, OwnerPrefix)
}
