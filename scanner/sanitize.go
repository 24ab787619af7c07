package scanner

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// StripCodeFence removes a leading ```/```json line and a trailing ```
// from model output. The extraction prompt asks for raw JSON but the model
// wraps it in a fence often enough that this has to be handled here.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseCandidates parses extraction output into raw candidate records.
// Output that is not valid JSON at all is an error and aborts the run.
// Valid JSON of the wrong shape (an object instead of an array) degrades
// to zero candidates and the run carries on.
func ParseCandidates(raw string) ([]json.RawMessage, error) {
	cleaned := StripCodeFence(raw)

	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &arr); err == nil {
		return arr, nil
	}

	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return nil, eris.Wrap(err, "extraction output is not valid JSON")
	}
	return nil, nil
}
