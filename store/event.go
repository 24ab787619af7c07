package store

import "strings"

// Event is one tracked happening, found by a scan or entered by hand.
type Event struct {
	ID        int      `json:"id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Org       string   `json:"org"`
	Venue     string   `json:"venue"`
	URL       string   `json:"url"`
	Desc      string   `json:"desc"`
	Date      string   `json:"date"`
	EndDate   string   `json:"endDate"`
	Mode      string   `json:"mode"`
	Reg       string   `json:"reg"`
	Tags      []string `json:"tags"`
	AIFound   bool     `json:"aiFound"`
	AddedAt   string   `json:"addedAt,omitempty"`
	ScannedAt string   `json:"scannedAt,omitempty"`
}

// ScanMeta tracks pipeline history across runs.
type ScanMeta struct {
	LastScan   string `json:"lastScan"`
	TotalScans int    `json:"totalScans"`
	LastAdded  int    `json:"lastAdded"`
}

const (
	DefaultType = "meetup"
	DefaultMode = "In-Person"
	DefaultReg  = "open"

	MaxTags = 6
)

var (
	validTypes = map[string]bool{"hackathon": true, "meetup": true, "workshop": true, "conference": true}
	validModes = map[string]bool{"In-Person": true, "Online": true, "Hybrid": true}
	validRegs  = map[string]bool{"open": true, "limited": true, "closed": true, "free": true}
)

// NormalizeType coerces an event type to a member of the closed set,
// falling back to "meetup".
func NormalizeType(s string) string {
	if validTypes[s] {
		return s
	}
	return DefaultType
}

func NormalizeMode(s string) string {
	if validModes[s] {
		return s
	}
	return DefaultMode
}

func NormalizeReg(s string) string {
	if validRegs[s] {
		return s
	}
	return DefaultReg
}

// DedupKey is the sole uniqueness constraint on events: lower-cased
// trimmed name plus the calendar date.
func DedupKey(name, date string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" + date
}

// Normalize applies the enum defaults and the tag cap in place.
func (e *Event) Normalize() {
	e.Type = NormalizeType(e.Type)
	e.Mode = NormalizeMode(e.Mode)
	e.Reg = NormalizeReg(e.Reg)
	if len(e.Tags) > MaxTags {
		e.Tags = e.Tags[:MaxTags]
	}
}
