// Package ingest pulls rosters, schedules, and box scores from the sports
// data provider and normalizes them into the ledger.
package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"sportfolio/internal/config"
)

// Provider-imposed minimum gaps between calls. Exceeding them trips 429s,
// so the limiters sit in front of every request.
const (
	gamelogGap  = 5 * time.Second
	backfillGap = 10 * time.Second
)

// Client is the sports-data API client. Requests are rate limited per
// endpoint category and retried with backoff on provider errors.
type Client struct {
	http *resty.Client
	log  *logrus.Logger

	scheduleLimiter *rate.Limiter
	gamelogLimiter  *rate.Limiter
	backfillLimiter *rate.Limiter
}

func NewClient(cfg config.Config, log *logrus.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.SportsBaseURL).
		SetBasicAuth(cfg.SportsAPIKey, "MYSPORTSFEEDS").
		SetHeader("Accept-Encoding", "gzip").
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(30 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})

	return &Client{
		http:            httpClient,
		log:             log,
		scheduleLimiter: rate.NewLimiter(rate.Every(time.Second), 2),
		gamelogLimiter:  rate.NewLimiter(rate.Every(gamelogGap), 1),
		backfillLimiter: rate.NewLimiter(rate.Every(backfillGap), 1),
	}
}

func (c *Client) get(ctx context.Context, limiter *rate.Limiter, path string, out any) error {
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("get %s: status %d", path, resp.StatusCode())
	}
	return nil
}

// SeasonalPlayers fetches the full player list for the current season.
func (c *Client) SeasonalPlayers(ctx context.Context) (*SeasonalPlayersResponse, error) {
	var result SeasonalPlayersResponse
	if err := c.get(ctx, c.scheduleLimiter, "/players.json", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DailyGames fetches the schedule and scores for one provider date
// (YYYYMMDD).
func (c *Client) DailyGames(ctx context.Context, date string) (*DailyGamesResponse, error) {
	var result DailyGamesResponse
	path := fmt.Sprintf("/date/%s/games.json", date)
	if err := c.get(ctx, c.scheduleLimiter, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DailyPlayerGamelogs fetches per-player box scores for one provider date.
// Backfill pulls use the slower limiter.
func (c *Client) DailyPlayerGamelogs(ctx context.Context, date string, backfill bool) (*DailyGamelogsResponse, error) {
	limiter := c.gamelogLimiter
	if backfill {
		limiter = c.backfillLimiter
	}
	var result DailyGamelogsResponse
	path := fmt.Sprintf("/date/%s/player_gamelogs.json", date)
	if err := c.get(ctx, limiter, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ProviderDate converts a game day (YYYY-MM-DD) to the provider's YYYYMMDD.
func ProviderDate(gameDay string) string {
	return strings.ReplaceAll(gameDay, "-", "")
}

// NormalizeGameStatus maps provider status strings onto the ledger's three
// game states.
func NormalizeGameStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "final", "completed":
		return "completed"
	case "live", "inprogress", "in-progress":
		return "inprogress"
	default:
		return "scheduled"
	}
}
