package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/rightsideup/youthrank/internal/identity"
	"github.com/rightsideup/youthrank/internal/metrics"
	"github.com/rightsideup/youthrank/internal/models"
	"github.com/rightsideup/youthrank/internal/storage"
)

// RosterScraper fetches a division's roster page and writes the bronze team
// CSV. The upstream serves either a server-rendered ranking table or a JSON
// array of team objects; both are supported by probing the content type and
// falling back.
type RosterScraper struct {
	client *Client
	layout storage.Layout
}

// NewRosterScraper creates a Stage 1 scraper.
func NewRosterScraper(client *Client, layout storage.Layout) *RosterScraper {
	return &RosterScraper{client: client, layout: layout}
}

// Run scrapes the division roster, writes the bronze CSV atomically and
// appends a scrape event. Zero extracted rows is ErrEmptyUpstream.
func (s *RosterScraper) Run(ctx context.Context, div models.Division, runID string) ([]models.RosterTeam, error) {
	log.Info().
		Str("division", div.Key).
		Str("url", div.RosterURL).
		Msg("Scraping division roster")

	resp, err := s.client.Get(ctx, div.RosterURL)
	if err != nil {
		return nil, fmt.Errorf("roster fetch for %s failed: %w", div.Key, err)
	}

	scrapedAt := time.Now().UTC()

	var teams []models.RosterTeam
	if looksLikeJSON(resp) {
		teams, err = parseRosterJSON(resp.Body, div, scrapedAt)
	} else {
		teams, err = parseRosterHTML(resp.Body, div, scrapedAt)
		if err != nil {
			// Some upstreams mislabel JSON responses as text; try the other
			// decoder before giving up.
			if jsonTeams, jsonErr := parseRosterJSON(resp.Body, div, scrapedAt); jsonErr == nil {
				teams, err = jsonTeams, nil
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("roster parse for %s failed: %w", div.Key, err)
	}

	teams = dedupeRoster(teams)
	if len(teams) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrEmptyUpstream, div.Key)
	}

	missing := 0
	for _, t := range teams {
		if !t.HasExternalID() {
			missing++
			log.Warn().
				Str("division", div.Key).
				Str("team_key", t.TeamKey).
				Msg("Roster team flagged external_id_missing, will be skipped by match scraper")
		}
	}

	if err := storage.WriteBronze(s.layout.BronzePath(div.Key), teams); err != nil {
		return nil, fmt.Errorf("bronze write for %s failed: %w", div.Key, err)
	}

	metrics.TeamsScraped.WithLabelValues(div.Key).Add(float64(len(teams)))

	if err := storage.AppendEvent(s.layout.EventLogPath(), storage.EventEntry{
		RunID:    runID,
		Division: div.Key,
		Stage:    "roster",
		Teams:    len(teams),
		Rows:     len(teams),
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to append roster scrape event")
	}

	log.Info().
		Str("division", div.Key).
		Int("teams", len(teams)).
		Int("external_id_missing", missing).
		Msg("Roster scrape complete")

	return teams, nil
}

func looksLikeJSON(resp *Response) bool {
	if strings.Contains(resp.ContentType, "application/json") {
		return true
	}
	trimmed := bytes.TrimSpace(resp.Body)
	return len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{')
}

// rosterTeamInput tolerates the field spellings the upstream has used across
// layout revisions.
type rosterTeamInput struct {
	TeamID          json.Number `json:"team_id"`
	ID              json.Number `json:"id"`
	TeamName        string      `json:"team_name"`
	Name            string      `json:"name"`
	ClubName        string      `json:"club_name"`
	Club            string      `json:"club"`
	State           string      `json:"state"`
	TeamAssociation string      `json:"team_association"`
}

func (in *rosterTeamInput) toRosterTeam(div models.Division, scrapedAt time.Time) (models.RosterTeam, bool) {
	name := in.TeamName
	if name == "" {
		name = in.Name
	}
	if strings.TrimSpace(name) == "" {
		return models.RosterTeam{}, false
	}

	externalID := in.TeamID.String()
	if externalID == "" {
		externalID = in.ID.String()
	}

	club := in.ClubName
	if club == "" {
		club = in.Club
	}

	state := strings.ToLower(in.State)
	if state == "" {
		state = strings.ToLower(in.TeamAssociation)
	}
	if state == "" {
		state = div.State
	}

	return models.RosterTeam{
		Team: models.Team{
			TeamKey:     identity.Normalize(name),
			DisplayName: strings.TrimSpace(name),
			Club:        strings.TrimSpace(club),
			State:       state,
			ExternalID:  externalID,
		},
		ScrapedAt: scrapedAt,
	}, true
}

func parseRosterJSON(body []byte, div models.Division, scrapedAt time.Time) ([]models.RosterTeam, error) {
	var inputs []rosterTeamInput
	if err := json.Unmarshal(body, &inputs); err != nil {
		// Some endpoints wrap the array in a data envelope.
		var envelope struct {
			Data []rosterTeamInput `json:"data"`
		}
		if err2 := json.Unmarshal(body, &envelope); err2 != nil || envelope.Data == nil {
			return nil, fmt.Errorf("failed to decode roster JSON: %w", err)
		}
		inputs = envelope.Data
	}

	teams := make([]models.RosterTeam, 0, len(inputs))
	for _, in := range inputs {
		if t, ok := in.toRosterTeam(div, scrapedAt); ok {
			teams = append(teams, t)
		}
	}
	return teams, nil
}

var profileIDRe = regexp.MustCompile(`/(\d+)(?:\?|$)`)

func parseRosterHTML(body []byte, div models.Division, scrapedAt time.Time) ([]models.RosterTeam, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse roster HTML: %w", err)
	}

	table := findRankingTable(doc)
	if table == nil {
		return nil, fmt.Errorf("ranking table not found (page layout may have changed)")
	}

	var teams []models.RosterTeam
	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return // header row
		}

		tds := tr.Find("td")
		if tds.Length() < 3 {
			return
		}

		nameCell := tds.Eq(1)
		name := strings.TrimSpace(nameCell.Text())
		if name == "" {
			return
		}

		externalID := ""
		if href, ok := nameCell.Find("a").Attr("href"); ok {
			if m := profileIDRe.FindStringSubmatch(href); m != nil {
				externalID = m[1]
			}
		}

		club := strings.TrimSpace(tds.Eq(2).Text())

		teams = append(teams, models.RosterTeam{
			Team: models.Team{
				TeamKey:     identity.Normalize(name),
				DisplayName: name,
				Club:        club,
				State:       div.State,
				ExternalID:  externalID,
			},
			ScrapedAt: scrapedAt,
		})
	})

	return teams, nil
}

// findRankingTable tries the known table selectors, then falls back to
// scanning for any table that looks like a ranking listing.
func findRankingTable(doc *goquery.Document) *goquery.Selection {
	for _, sel := range []string{"table#ranking_table", "table#ranking-table", "table.ranking-table"} {
		if t := doc.Find(sel).First(); t.Length() > 0 {
			return t
		}
	}

	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(i int, t *goquery.Selection) bool {
		text := strings.ToLower(t.Text())
		if strings.Contains(text, "rank") || strings.Contains(text, "team") {
			found = t
			return false
		}
		return true
	})
	return found
}

// dedupeRoster collapses duplicate (team_key, external_id) pairs, first
// occurrence wins.
func dedupeRoster(teams []models.RosterTeam) []models.RosterTeam {
	seen := make(map[string]bool, len(teams))
	out := make([]models.RosterTeam, 0, len(teams))
	for _, t := range teams {
		k := t.TeamKey + "|" + t.ExternalID
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, t)
	}
	return out
}
