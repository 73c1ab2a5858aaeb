// Package espn pulls final scores from the ESPN scoreboard API and
// normalizes them into the game-result mapping the scoring layer consumes.
package espn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"confidencePoolAPI/internal/pool"
	"confidencePoolAPI/internal/recovery"
)

type Client struct {
	HTTP      *http.Client
	BaseURL   string
	UserAgent string
}

func NewClient() *Client {
	return &Client{
		HTTP:      &http.Client{Timeout: 10 * time.Second},
		BaseURL:   "https://site.api.espn.com/apis/site/v2/sports/football/nfl",
		UserAgent: "confidence-pool-api/1.0",
	}
}

// WeekResults returns gameID -> result for a regular-season week. Games that
// are not final come back with a nil winner, which scores as zero points for
// now rather than as an error.
func (c *Client) WeekResults(ctx context.Context, season, week int) (map[string]pool.GameResult, error) {
	url := fmt.Sprintf("%s/scoreboard?seasontype=2&week=%d&dates=%d", c.BaseURL, week, season)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build scoreboard request: %w", err)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, recovery.Wrap("espn.scoreboard", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, recovery.Wrap("espn.scoreboard",
			fmt.Errorf("scoreboard returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, recovery.Wrap("espn.scoreboard", err)
	}

	var sb scoreboardResponse
	if err := json.Unmarshal(body, &sb); err != nil {
		return nil, recovery.Wrap("espn.scoreboard", err)
	}

	results := make(map[string]pool.GameResult, len(sb.Events))
	for _, ev := range sb.Events {
		results[ev.ID] = ev.result()
	}
	return results, nil
}

type scoreboardResponse struct {
	Events []event `json:"events"`
}

type event struct {
	ID           string        `json:"id"`
	Status       eventStatus   `json:"status"`
	Competitions []competition `json:"competitions"`
}

type eventStatus struct {
	Type statusType `json:"type"`
}

type statusType struct {
	Completed bool   `json:"completed"`
	Name      string `json:"name"`
}

type competition struct {
	Competitors []competitor `json:"competitors"`
}

type competitor struct {
	HomeAway string `json:"homeAway"`
	Winner   bool   `json:"winner"`
	Team     team   `json:"team"`
}

type team struct {
	Abbreviation string `json:"abbreviation"`
}

func (ev event) result() pool.GameResult {
	if !ev.Status.Type.Completed {
		return pool.GameResult{}
	}
	for _, comp := range ev.Competitions {
		for _, c := range comp.Competitors {
			if c.Winner {
				abbr := c.Team.Abbreviation
				return pool.GameResult{WinningTeam: &abbr}
			}
		}
	}
	// Completed with no winner flag: a tie. Nobody scores it.
	return pool.GameResult{}
}
