// Package subscription holds the subscriptions and blocklists of every
// destination together with the delivery checkpoint.
package subscription

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"subwatch/internal/query"
)

var (
	// ErrExists is returned when adding a subscription or block that is already present.
	ErrExists = errors.New("already exists")
	// ErrNotFound is returned when the referenced subscription or block does not exist.
	ErrNotFound = errors.New("not found")
)

// Subscription is a parsed query bound to a destination chat.
type Subscription struct {
	Query        string
	Parsed       query.Query
	Destination  int64
	Paused       bool
	LatestUpdate time.Time
}

// New parses raw and binds it to dest. Parse failures are returned here,
// never at match time.
func New(raw string, dest int64) (*Subscription, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := query.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse subscription: %w", err)
	}
	return &Subscription{Query: raw, Parsed: parsed, Destination: dest}, nil
}

type key struct {
	query string
	dest  int64
}

func keyOf(raw string, dest int64) key {
	return key{query: strings.ToLower(strings.TrimSpace(raw)), dest: dest}
}

func (s *Subscription) key() key {
	return keyOf(s.Query, s.Destination)
}
