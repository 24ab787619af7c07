package scanner

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"event-radar/store"
)

var testRefDate = time.Date(2025, 4, 20, 0, 0, 0, 0, time.UTC)

// fakeClient scripts the external capability and records every call.
type fakeClient struct {
	mu        sync.Mutex
	searches  []string
	extracts  []string
	searchFn  func(query string) (string, error)
	extractFn func(prompt string) (string, error)
}

func (f *fakeClient) WebSearch(_ context.Context, query string) (string, error) {
	f.mu.Lock()
	f.searches = append(f.searches, query)
	f.mu.Unlock()
	if f.searchFn != nil {
		return f.searchFn(query)
	}
	return "some search results", nil
}

func (f *fakeClient) Extract(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.extracts = append(f.extracts, prompt)
	f.mu.Unlock()
	if f.extractFn != nil {
		return f.extractFn(prompt)
	}
	return "[]", nil
}

func (f *fakeClient) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.searches), len(f.extracts)
}

// memorySink records messages for assertions.
type memorySink struct {
	mu   sync.Mutex
	msgs []Message
}

func (m *memorySink) sink() Sink {
	return func(msg Message) {
		m.mu.Lock()
		m.msgs = append(m.msgs, msg)
		m.mu.Unlock()
	}
}

func (m *memorySink) byTag(tag string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.msgs {
		if msg.Tag == tag {
			out = append(out, msg.Text)
		}
	}
	return out
}

func newTestScanner(t *testing.T, ai Client) (*Scanner, *store.FileStore) {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return New(st, ai, "Nashville", true, zap.NewNop()), st
}

func TestRun_MergesExtractedEvents(t *testing.T) {
	ai := &fakeClient{
		extractFn: func(string) (string, error) {
			return `[
				{"name":"AI Day","date":"2025-05-01"},
				{"name":"Music Row Hack","date":"2025-05-10","type":"hackathon","venue":"Tech Hall","mode":"Hybrid","reg":"limited","tags":["go","cloud"]},
				{"name":"","date":"2025-05-02"},
				{"name":"No Date Conf","date":""}
			]`, nil
		},
	}
	sc, st := newTestScanner(t, ai)
	rec := &memorySink{}

	sc.Run(context.Background(), testRefDate, rec.sink())

	events, err := st.List()
	require.NoError(t, err)
	require.Len(t, events, 2, "nameless and dateless candidates must be dropped")

	first := events[0]
	assert.Equal(t, 1, first.ID)
	assert.Equal(t, "AI Day", first.Name)
	assert.Equal(t, "meetup", first.Type)
	assert.Equal(t, "In-Person", first.Mode)
	assert.Equal(t, "open", first.Reg)
	assert.Equal(t, "Nashville", first.Venue, "venue defaults to the region")
	assert.True(t, first.AIFound)
	assert.Equal(t, "2025-04-20", first.ScannedAt)

	second := events[1]
	assert.Equal(t, 2, second.ID)
	assert.Equal(t, "hackathon", second.Type)
	assert.Equal(t, "Tech Hall", second.Venue)

	meta, err := st.Meta()
	require.NoError(t, err)
	assert.Equal(t, 1, meta.TotalScans)
	assert.Equal(t, 2, meta.LastAdded)

	nSearch, nExtract := ai.calls()
	assert.Equal(t, 5, nSearch)
	assert.Equal(t, 1, nExtract)
	assert.NotEmpty(t, rec.byTag(TagOK))
}

func TestRun_DuplicateCandidateSkipped(t *testing.T) {
	ai := &fakeClient{
		extractFn: func(string) (string, error) {
			return `[{"name":"AI Day","date":"2025-05-01"}]`, nil
		},
	}
	sc, st := newTestScanner(t, ai)
	_, err := st.Create(store.Event{Name: "AI Day", Date: "2025-05-01"})
	require.NoError(t, err)

	sc.Run(context.Background(), testRefDate, nil)

	events, err := st.List()
	require.NoError(t, err)
	assert.Len(t, events, 1)

	meta, err := st.Meta()
	require.NoError(t, err)
	assert.Equal(t, 1, meta.TotalScans)
	assert.Zero(t, meta.LastAdded)
}

func TestRun_SameNameDifferentDatesBothKept(t *testing.T) {
	ai := &fakeClient{
		extractFn: func(string) (string, error) {
			return `[
				{"name":"Data Science Social","date":"2025-05-01"},
				{"name":"Data Science Social","date":"2025-05-02"}
			]`, nil
		},
	}
	sc, st := newTestScanner(t, ai)

	sc.Run(context.Background(), testRefDate, nil)

	events, err := st.List()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.NotEqual(t, events[0].ID, events[1].ID)
}

// Parse success with the wrong shape proceeds to the metadata update; a
// parse failure aborts before it. The asymmetry is deliberate.
func TestRun_NonArrayJSONStillCountsAsScan(t *testing.T) {
	ai := &fakeClient{
		extractFn: func(string) (string, error) {
			return `{"note":"no events found"}`, nil
		},
	}
	sc, st := newTestScanner(t, ai)

	sc.Run(context.Background(), testRefDate, nil)

	meta, err := st.Meta()
	require.NoError(t, err)
	assert.Equal(t, 1, meta.TotalScans)
	assert.Zero(t, meta.LastAdded)
}

func TestRun_UnparsableExtractionIsFatal(t *testing.T) {
	ai := &fakeClient{
		extractFn: func(string) (string, error) {
			return "sorry, I couldn't find anything", nil
		},
	}
	sc, st := newTestScanner(t, ai)
	rec := &memorySink{}

	sc.Run(context.Background(), testRefDate, rec.sink())

	meta, err := st.Meta()
	require.NoError(t, err)
	assert.Zero(t, meta.TotalScans, "a failed run must not count")

	events, err := st.List()
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NotEmpty(t, rec.byTag(TagErr))
	assert.False(t, sc.InProgress(), "guard must be released on failure")
}

func TestRun_ExtractionCallFailureIsFatal(t *testing.T) {
	ai := &fakeClient{
		extractFn: func(string) (string, error) {
			return "", assert.AnError
		},
	}
	sc, st := newTestScanner(t, ai)

	sc.Run(context.Background(), testRefDate, nil)

	meta, err := st.Meta()
	require.NoError(t, err)
	assert.Zero(t, meta.TotalScans)
	assert.False(t, sc.InProgress())
}

func TestRun_FailedQueryDoesNotAbortScan(t *testing.T) {
	ai := &fakeClient{}
	ai.searchFn = func(query string) (string, error) {
		ai.mu.Lock()
		n := len(ai.searches)
		ai.mu.Unlock()
		if n == 2 {
			return "", assert.AnError
		}
		return "results for " + query, nil
	}
	ai.extractFn = func(prompt string) (string, error) {
		// the prompt carries the four successful queries, not the failed one
		return "[]", nil
	}
	sc, st := newTestScanner(t, ai)
	rec := &memorySink{}

	sc.Run(context.Background(), testRefDate, rec.sink())

	nSearch, nExtract := ai.calls()
	assert.Equal(t, 5, nSearch)
	assert.Equal(t, 1, nExtract, "scan must reach extraction despite a failed query")

	prompt := ai.extracts[0]
	assert.NotContains(t, prompt, "results for "+ai.searches[1])
	assert.Contains(t, prompt, "results for "+ai.searches[0])
	assert.Contains(t, prompt, "results for "+ai.searches[4])

	meta, err := st.Meta()
	require.NoError(t, err)
	assert.Equal(t, 1, meta.TotalScans)
	assert.NotEmpty(t, rec.byTag(TagErr))
}

func TestRun_GuardRejectsConcurrentScan(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	ai := &fakeClient{
		searchFn: func(string) (string, error) {
			once.Do(func() { close(started) })
			<-release
			return "", nil
		},
	}
	sc, _ := newTestScanner(t, ai)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sc.Run(context.Background(), testRefDate, nil)
	}()
	<-started
	assert.True(t, sc.InProgress())

	rec := &memorySink{}
	before, _ := ai.calls()
	sc.Run(context.Background(), testRefDate, rec.sink())
	after, _ := ai.calls()

	assert.Equal(t, before, after, "rejected run must make no external calls")
	require.Len(t, rec.byTag(TagErr), 1)
	assert.Contains(t, rec.byTag(TagErr)[0], "already in progress")

	close(release)
	wg.Wait()
	assert.False(t, sc.InProgress())
}

func TestRun_MissingKeyReportsBeforeGuard(t *testing.T) {
	ai := &fakeClient{}
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	sc := New(st, ai, "Nashville", false, zap.NewNop())
	rec := &memorySink{}

	sc.Run(context.Background(), testRefDate, rec.sink())

	nSearch, nExtract := ai.calls()
	assert.Zero(t, nSearch)
	assert.Zero(t, nExtract)
	assert.NotEmpty(t, rec.byTag(TagErr))
	assert.False(t, sc.InProgress())

	meta, err := st.Meta()
	require.NoError(t, err)
	assert.Zero(t, meta.TotalScans)
}

func TestRun_PanickingSinkDoesNotAbort(t *testing.T) {
	ai := &fakeClient{
		extractFn: func(string) (string, error) {
			return `[{"name":"AI Day","date":"2025-05-01"}]`, nil
		},
	}
	sc, st := newTestScanner(t, ai)

	sc.Run(context.Background(), testRefDate, func(Message) {
		panic("sink exploded")
	})

	events, err := st.List()
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCoerceCandidates(t *testing.T) {
	raws := []json.RawMessage{
		json.RawMessage(`{"name":"AI Day","date":"2025-05-01","tags":["a","b","c","d","e","f","g"]}`),
		json.RawMessage(`{"name":12345,"date":"2025-05-01"}`), // malformed element, dropped
		json.RawMessage(`"not an object"`),
	}

	events := coerceCandidates(raws, "Nashville", testRefDate)
	require.Len(t, events, 1)
	assert.Len(t, events[0].Tags, store.MaxTags)
	assert.True(t, events[0].AIFound)
	assert.Equal(t, "Nashville", events[0].Venue)
}
