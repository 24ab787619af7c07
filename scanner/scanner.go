// Package scanner implements the scan-and-merge pipeline: fan out a fixed
// set of web searches, extract structured event records from the aggregated
// text, then validate, dedupe and append them to the store.
package scanner

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"event-radar/store"
)

// Client is the external search/extraction capability the pipeline consumes.
type Client interface {
	WebSearch(ctx context.Context, query string) (string, error)
	Extract(ctx context.Context, prompt string) (string, error)
}

type Scanner struct {
	store  *store.FileStore
	ai     Client
	region string
	keySet bool
	log    *zap.Logger

	running atomic.Bool
}

func New(st *store.FileStore, ai Client, region string, keySet bool, log *zap.Logger) *Scanner {
	return &Scanner{
		store:  st,
		ai:     ai,
		region: region,
		keySet: keySet,
		log:    log,
	}
}

// InProgress reports whether a scan is currently running.
func (s *Scanner) InProgress() bool {
	return s.running.Load()
}

// Run executes one scan relative to refDate. At most one scan is active at
// a time: a call that finds one already running does nothing beyond telling
// the sink so. All failures surface through the sink and the logger; Run
// never panics past its boundary.
func (s *Scanner) Run(ctx context.Context, refDate time.Time, sink Sink) {
	if !s.keySet {
		emit(sink, TagErr, "ANTHROPIC_API_KEY is not set, cannot scan")
		s.log.Warn("scan skipped: no API key configured")
		return
	}

	if !s.running.CompareAndSwap(false, true) {
		emit(sink, TagErr, "a scan is already in progress")
		return
	}
	defer s.running.Store(false)

	start := time.Now()
	s.log.Info("scan started", zap.String("region", s.region), zap.String("ref_date", refDate.Format("2006-01-02")))
	emit(sink, TagInfo, fmt.Sprintf("scanning for %s events on or after %s", s.region, refDate.Format("2006-01-02")))

	aggregated := s.fanOut(ctx, refDate, sink)

	emit(sink, TagInfo, "extracting event records from search results")
	raw, err := s.ai.Extract(ctx, s.extractionPrompt(aggregated, refDate))
	if err != nil {
		s.log.Error("extraction call failed", zap.Error(err))
		emit(sink, TagErr, "extraction failed: "+err.Error())
		return
	}

	raws, err := ParseCandidates(raw)
	if err != nil {
		s.log.Error("extraction output unparsable", zap.Error(err))
		emit(sink, TagErr, "could not parse extraction output")
		return
	}
	emit(sink, TagOK, fmt.Sprintf("extracted %d candidate record(s)", len(raws)))

	candidates := coerceCandidates(raws, s.region, refDate)

	added, err := s.store.Merge(candidates)
	if err != nil {
		s.log.Error("merge failed", zap.Error(err))
		emit(sink, TagErr, "could not save events: "+err.Error())
		return
	}

	if err := s.store.RecordScan(added, time.Now()); err != nil {
		s.log.Warn("failed to record scan metadata", zap.Error(err))
	}

	s.log.Info("scan complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("added", added),
		zap.Duration("took", time.Since(start)),
	)
	emit(sink, TagOK, fmt.Sprintf("scan complete: %d new event(s) added", added))
}

// fanOut runs every search query in turn and concatenates the labeled
// results. A failed query just contributes nothing: the scan goes on with
// whatever the other queries returned.
func (s *Scanner) fanOut(ctx context.Context, refDate time.Time, sink Sink) string {
	queries := s.queries(refDate)

	var sb strings.Builder
	for i, q := range queries {
		emit(sink, TagInfo, fmt.Sprintf("search %d/%d: %s", i+1, len(queries), q))

		text, err := s.ai.WebSearch(ctx, q)
		if err != nil {
			s.log.Warn("search query failed", zap.String("query", q), zap.Error(err))
			emit(sink, TagErr, fmt.Sprintf("search %d/%d failed, continuing", i+1, len(queries)))
			continue
		}
		if strings.TrimSpace(text) == "" {
			emit(sink, TagOK, fmt.Sprintf("search %d/%d returned nothing", i+1, len(queries)))
			continue
		}

		sb.WriteString("### Results for: " + q + "\n")
		sb.WriteString(text)
		sb.WriteString("\n\n")
		emit(sink, TagOK, fmt.Sprintf("search %d/%d done", i+1, len(queries)))
	}
	return sb.String()
}

func (s *Scanner) queries(refDate time.Time) []string {
	month := refDate.Format("January 2006")
	return []string{
		fmt.Sprintf("upcoming hackathons in %s %d", s.region, refDate.Year()),
		fmt.Sprintf("tech meetups in %s in %s", s.region, month),
		fmt.Sprintf("developer workshops in %s %s", s.region, month),
		fmt.Sprintf("technology conferences in %s %d", s.region, refDate.Year()),
		fmt.Sprintf("data science and AI events in %s", s.region),
	}
}

func (s *Scanner) extractionPrompt(aggregated string, refDate time.Time) string {
	return fmt.Sprintf(`Below are web search results about tech events.

Extract every distinct event into a JSON array. Respond with ONLY the raw
JSON array, no prose and no code fences. Each element:

{"name":"","type":"hackathon|meetup|workshop|conference","org":"","venue":"","url":"","desc":"","date":"YYYY-MM-DD","endDate":"","mode":"In-Person|Online|Hybrid","reg":"open|limited|closed|free","tags":[]}

Rules:
- only events located in or around %s
- only events dated on or after %s; omit any event whose date is ambiguous
- desc at most two sentences

Search results:

%s`, s.region, refDate.Format("2006-01-02"), aggregated)
}
