package storage

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/rightsideup/youthrank/internal/models"
)

var goldHeader = []string{
	"date", "team_a_key", "team_a_name", "team_b_key", "team_b_name",
	"score_a", "score_b", "competition", "source_url", "age_context", "match_confidence",
}

const dateLayout = "2006-01-02"

// WriteGold writes the gold match CSV atomically, sorted by
// (team_a_key, team_b_key, date) with duplicates on the primary key
// collapsed, first occurrence wins.
func WriteGold(path string, rows []models.MatchRow) error {
	deduped := dedupeMatches(rows)

	sort.Slice(deduped, func(i, j int) bool {
		a, b := deduped[i], deduped[j]
		if a.TeamAKey != b.TeamAKey {
			return a.TeamAKey < b.TeamAKey
		}
		if a.TeamBKey != b.TeamBKey {
			return a.TeamBKey < b.TeamBKey
		}
		return a.Date.Before(b.Date)
	})

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(goldHeader); err != nil {
		return fmt.Errorf("failed to write gold header: %w", err)
	}

	for _, m := range deduped {
		rec := []string{
			m.Date.Format(dateLayout),
			m.TeamAKey,
			m.TeamAName,
			m.TeamBKey,
			m.TeamBName,
			strconv.Itoa(m.ScoreA),
			strconv.Itoa(m.ScoreB),
			m.Competition,
			m.SourceURL,
			string(m.AgeContext),
			m.Confidence,
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("failed to write gold row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush gold csv: %w", err)
	}

	return WriteFileAtomic(path, buf.Bytes())
}

// ReadGold loads a gold match CSV.
func ReadGold(path string) ([]models.MatchRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open gold file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrMalformedInput, path, err)
	}

	if len(records) == 0 || len(records[0]) != len(goldHeader) {
		return nil, fmt.Errorf("%w: %s: unexpected gold header", models.ErrMalformedInput, path)
	}

	rows := make([]models.MatchRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		date, err := time.Parse(dateLayout, rec[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: bad date %q", models.ErrMalformedInput, path, rec[0])
		}
		scoreA, err := strconv.Atoi(rec[5])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: bad score_a %q", models.ErrMalformedInput, path, rec[5])
		}
		scoreB, err := strconv.Atoi(rec[6])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: bad score_b %q", models.ErrMalformedInput, path, rec[6])
		}

		rows = append(rows, models.MatchRow{
			Date:        date,
			TeamAKey:    rec[1],
			TeamAName:   rec[2],
			TeamBKey:    rec[3],
			TeamBName:   rec[4],
			ScoreA:      scoreA,
			ScoreB:      scoreB,
			Competition: rec[7],
			SourceURL:   rec[8],
			AgeContext:  models.AgeContext(rec[9]),
			Confidence:  rec[10],
		})
	}

	return rows, nil
}

// WriteSummary writes the Stage 2 run summary JSON next to the gold file.
func WriteSummary(path string, summary models.ScrapeSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal scrape summary: %w", err)
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// dedupeMatches collapses duplicate primary keys. Both sides of one match
// emit a row with the same key but their own name spelling and source URL, in
// worker-arrival order; ordering on the full row first makes the surviving
// duplicate independent of that order.
func dedupeMatches(rows []models.MatchRow) []models.MatchRow {
	sorted := make([]models.MatchRow, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return lessFullRow(sorted[i], sorted[j]) })

	seen := make(map[string]bool, len(sorted))
	out := make([]models.MatchRow, 0, len(sorted))
	for _, m := range sorted {
		k := m.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, m)
	}
	return out
}

func lessFullRow(a, b models.MatchRow) bool {
	if ak, bk := a.Key(), b.Key(); ak != bk {
		return ak < bk
	}
	if a.TeamAName != b.TeamAName {
		return a.TeamAName < b.TeamAName
	}
	if a.TeamBName != b.TeamBName {
		return a.TeamBName < b.TeamBName
	}
	if a.ScoreA != b.ScoreA {
		return a.ScoreA < b.ScoreA
	}
	if a.ScoreB != b.ScoreB {
		return a.ScoreB < b.ScoreB
	}
	if a.Competition != b.Competition {
		return a.Competition < b.Competition
	}
	if a.SourceURL != b.SourceURL {
		return a.SourceURL < b.SourceURL
	}
	if a.AgeContext != b.AgeContext {
		return a.AgeContext < b.AgeContext
	}
	return a.Confidence < b.Confidence
}
