package storage

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rightsideup/youthrank/internal/models"
)

var bronzeHeader = []string{"team_name", "team_key", "external_id", "club", "state", "scraped_at"}

// WriteBronze writes the Stage 1 roster CSV atomically. Rows are sorted by
// team key so two runs over the same upstream produce identical bytes.
func WriteBronze(path string, teams []models.RosterTeam) error {
	sorted := make([]models.RosterTeam, len(teams))
	copy(sorted, teams)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TeamKey < sorted[j].TeamKey })

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(bronzeHeader); err != nil {
		return fmt.Errorf("failed to write bronze header: %w", err)
	}

	for _, t := range sorted {
		rec := []string{
			t.DisplayName,
			t.TeamKey,
			t.ExternalID,
			t.Club,
			t.State,
			t.ScrapedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("failed to write bronze row for %s: %w", t.TeamKey, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush bronze csv: %w", err)
	}

	return WriteFileAtomic(path, buf.Bytes())
}

// ReadBronze loads a bronze roster CSV.
func ReadBronze(path string) ([]models.RosterTeam, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bronze file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrMalformedInput, path, err)
	}

	if len(records) == 0 || len(records[0]) != len(bronzeHeader) {
		return nil, fmt.Errorf("%w: %s: unexpected bronze header", models.ErrMalformedInput, path)
	}

	teams := make([]models.RosterTeam, 0, len(records)-1)
	for _, rec := range records[1:] {
		scrapedAt, err := time.Parse(time.RFC3339, rec[5])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: bad scraped_at %q", models.ErrMalformedInput, path, rec[5])
		}
		teams = append(teams, models.RosterTeam{
			Team: models.Team{
				DisplayName: rec[0],
				TeamKey:     rec[1],
				ExternalID:  rec[2],
				Club:        rec[3],
				State:       rec[4],
			},
			ScrapedAt: scrapedAt,
		})
	}

	return teams, nil
}
