// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SubmissionID identifies a content item on an upstream site.
type SubmissionID struct {
	Site string
	ID   int64
}

// String renders the ID as "site:id".
func (s SubmissionID) String() string {
	return s.Site + ":" + strconv.FormatInt(s.ID, 10)
}

// Less orders IDs by numeric item ID, then by site.
func (s SubmissionID) Less(o SubmissionID) bool {
	if s.ID != o.ID {
		return s.ID < o.ID
	}
	return s.Site < o.Site
}

// ParseSubmissionID parses the "site:id" form produced by String.
func ParseSubmissionID(raw string) (SubmissionID, error) {
	site, num, ok := strings.Cut(raw, ":")
	if !ok || site == "" {
		return SubmissionID{}, fmt.Errorf("invalid submission id %q", raw)
	}
	id, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return SubmissionID{}, fmt.Errorf("invalid submission id %q: %w", raw, err)
	}
	return SubmissionID{Site: site, ID: id}, nil
}

// Rating is the content rating of a submission.
type Rating int

// Supported ratings.
const (
	RatingGeneral Rating = iota
	RatingMature
	RatingAdult
)

// String returns the canonical lower-case rating name.
func (r Rating) String() string {
	switch r {
	case RatingMature:
		return "mature"
	case RatingAdult:
		return "adult"
	default:
		return "general"
	}
}

// ParseRating maps the names used by queries and the upstream API to a Rating.
func ParseRating(s string) (Rating, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "general", "safe":
		return RatingGeneral, true
	case "mature", "questionable":
		return RatingMature, true
	case "adult", "explicit":
		return RatingAdult, true
	}
	return RatingGeneral, false
}

// Artist is the uploader of a submission.
type Artist struct {
	Name    string
	Profile string
}

// Submission is the full data of an upstream item.
type Submission struct {
	ID          SubmissionID
	Title       string
	Description string
	Keywords    []string
	Artist      Artist
	Rating      Rating
	Link        string
	DownloadURL string
}

// MediaKind is the Telegram media type used to deliver a submission.
type MediaKind string

// Supported media kinds.
const (
	MediaPhoto     MediaKind = "photo"
	MediaDocument  MediaKind = "document"
	MediaAnimation MediaKind = "animation"
	MediaAudio     MediaKind = "audio"
)

// MediaHandle identifies media that has already been uploaded to the transport.
type MediaHandle struct {
	Kind         MediaKind
	FileID       string
	FileUniqueID string
}

// SendSettings describes how uploaded media should be re-sent.
type SendSettings struct {
	FullResolution bool
}

// CacheEntry records media previously sent for a submission.
type CacheEntry struct {
	ID               SubmissionID
	MediaKind        MediaKind
	MediaID          string
	MediaAccessToken string
	SourceURL        string
	Caption          string
	CachedAt         time.Time
	IsFullResolution bool
}

// Handle returns the media handle stored in the entry.
func (c CacheEntry) Handle() MediaHandle {
	return MediaHandle{Kind: c.MediaKind, FileID: c.MediaID, FileUniqueID: c.MediaAccessToken}
}
