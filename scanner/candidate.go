package scanner

import (
	"encoding/json"
	"strings"
	"time"

	"event-radar/store"
)

// candidate mirrors the record shape the extraction prompt asks for.
type candidate struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Org     string   `json:"org"`
	Venue   string   `json:"venue"`
	URL     string   `json:"url"`
	Desc    string   `json:"desc"`
	Date    string   `json:"date"`
	EndDate string   `json:"endDate"`
	Mode    string   `json:"mode"`
	Reg     string   `json:"reg"`
	Tags    []string `json:"tags"`
}

// coerceCandidates turns raw extraction records into events ready for the
// merge stage. Records missing a name or date are dropped; everything else
// degrades to defaults. This stage never fails.
func coerceCandidates(raws []json.RawMessage, region string, refDate time.Time) []store.Event {
	scannedAt := refDate.Format("2006-01-02")

	events := make([]store.Event, 0, len(raws))
	for _, raw := range raws {
		var c candidate
		if err := json.Unmarshal(raw, &c); err != nil {
			continue
		}
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" || c.Date == "" {
			continue
		}

		e := store.Event{
			Name:      c.Name,
			Type:      c.Type,
			Org:       c.Org,
			Venue:     c.Venue,
			URL:       c.URL,
			Desc:      c.Desc,
			Date:      c.Date,
			EndDate:   c.EndDate,
			Mode:      c.Mode,
			Reg:       c.Reg,
			Tags:      c.Tags,
			AIFound:   true,
			ScannedAt: scannedAt,
		}
		if e.Venue == "" {
			e.Venue = region
		}
		e.Normalize()
		events = append(events, e)
	}
	return events
}
