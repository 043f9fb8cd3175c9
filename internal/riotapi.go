package internal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Extract attempt outcomes, also used as metric labels.
const (
	outcomeOK          = "ok"
	outcomeRateLimited = "rate_limited"
	outcomeRetryable   = "retryable"
	outcomeFatal       = "fatal"
)

type RiotAPIClient struct {
	APIKey        string
	URL           string
	Region        string
	Client        *http.Client
	MaxRetries    int
	BackoffFactor float64
	RawBackupPath string

	limiter RateLimiterInterface
	sleep   Sleeper
	metrics *Metrics
	logger  *Logger
}

func NewRiotAPIClient(cfg *Config, limiter RateLimiterInterface, logger *Logger) *RiotAPIClient {
	return &RiotAPIClient{
		APIKey:        cfg.RiotAPIKey,
		URL:           cfg.LeaderboardURL,
		Region:        cfg.RiotRegion,
		MaxRetries:    cfg.MaxRetries,
		BackoffFactor: cfg.BackoffFactor,
		RawBackupPath: cfg.RawDataPath,
		limiter:       limiter,
		sleep:         contextSleep,
		logger:        logger,
		Client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

// SetSleeper replaces the backoff wait, mainly for tests.
func (c *RiotAPIClient) SetSleeper(s Sleeper) {
	c.sleep = s
}

func (c *RiotAPIClient) SetMetrics(m *Metrics) {
	c.metrics = m
}

// LeaderboardURLForRegion builds the challenger endpoint on the platform host
// that serves region.
func LeaderboardURLForRegion(region string) string {
	host := "kr"
	switch strings.ToUpper(region) {
	case "BR1", "LA1", "LA2", "NA1", "EUW1", "EUN1", "TR1", "RU", "JP1", "OC1", "PH2", "SG2", "TH2", "TW2", "VN2", "ME1":
		host = strings.ToLower(region)
	}
	return fmt.Sprintf("https://%s.api.riotgames.com/lol/league/v4/challengerleagues/by-queue/RANKED_SOLO_5x5", host)
}

// backoffDelay is BackoffFactor^attempt seconds, attempts counted from 1.
func (c *RiotAPIClient) backoffDelay(attempt int) time.Duration {
	return time.Duration(math.Pow(c.BackoffFactor, float64(attempt)) * float64(time.Second))
}

// Fetch downloads the leaderboard and returns its entries. The raw payload
// is archived to RawBackupPath once per successful call.
func (c *RiotAPIClient) Fetch(ctx context.Context) ([]RawEntry, error) {
	var lastErr error

	for attempt := 1; attempt <= c.MaxRetries; attempt++ {
		start := time.Now()
		outcome, body, err := c.attempt(ctx, attempt)
		c.metrics.ExtractAttempt(outcome)

		switch outcome {
		case outcomeOK:
			entries, perr := c.parse(body)
			if perr != nil {
				return nil, perr
			}
			if err := c.writeBackup(body); err != nil {
				return nil, err
			}
			c.logger.Info("leaderboard_fetched").
				Component("extractor").
				Operation("fetch").
				Attempt(attempt).
				Rows(len(entries)).
				Duration(time.Since(start)).
				Log()
			return entries, nil

		case outcomeFatal:
			return nil, newPipelineError(KindNetworkFailure, "fetch", err)

		case outcomeRateLimited:
			lastErr = err
			delay := c.backoffDelay(attempt)
			c.logger.Warn("leaderboard_rate_limited").
				Component("extractor").
				Operation("fetch").
				Attempt(attempt).
				Meta("backoff_seconds", delay.Seconds()).
				Log()
			if serr := c.sleep(ctx, delay); serr != nil {
				return nil, newPipelineError(KindNetworkFailure, "fetch", serr)
			}
			if attempt == c.MaxRetries {
				return nil, newPipelineError(KindRateLimitExceeded, "fetch",
					fmt.Errorf("rate limited on all %d attempts: %w", c.MaxRetries, lastErr))
			}

		case outcomeRetryable:
			lastErr = err
			c.logger.Warn("leaderboard_fetch_retry").
				Component("extractor").
				Operation("fetch").
				Attempt(attempt).
				Err(err).
				Log()
			if attempt == c.MaxRetries {
				break
			}
			if serr := c.sleep(ctx, c.backoffDelay(attempt)); serr != nil {
				return nil, newPipelineError(KindNetworkFailure, "fetch", serr)
			}
		}
	}

	return nil, newPipelineError(KindNetworkFailure, "fetch",
		fmt.Errorf("giving up after %d attempts: %w", c.MaxRetries, lastErr))
}

func (c *RiotAPIClient) attempt(ctx context.Context, attempt int) (string, []byte, error) {
	if c.limiter != nil {
		allowed, err := c.limiter.Allow(ctx, "leaderboard:"+c.Region)
		if err != nil {
			c.logger.Warn("rate_limiter_unavailable").
				Component("extractor").
				Operation("rate_limit").
				Err(err).
				Log()
		} else if !allowed {
			return outcomeRateLimited, nil, fmt.Errorf("client-side rate limit reached")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return outcomeFatal, nil, err
	}
	req.Header.Set("X-Riot-Token", c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return outcomeRetryable, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return outcomeRetryable, nil, err
	}

	c.logger.Debug("leaderboard_response").
		Component("extractor").
		Operation("fetch").
		Attempt(attempt).
		HTTP(http.MethodGet, req.URL.Path, resp.StatusCode).
		Log()

	switch {
	case resp.StatusCode == http.StatusOK:
		return outcomeOK, body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return outcomeRateLimited, nil, fmt.Errorf("Riot API error: %s", resp.Status)
	case resp.StatusCode >= 500:
		return outcomeRetryable, nil, fmt.Errorf("Riot API error: %s", resp.Status)
	default:
		return outcomeFatal, nil, fmt.Errorf("Riot API error: %s - %s", resp.Status, truncate(string(body), 200))
	}
}

// parse pulls the entries array out of a league payload. A missing key is an
// empty batch, anything that is not a JSON object is unusable.
func (c *RiotAPIClient) parse(body []byte) ([]RawEntry, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, newPipelineError(KindNetworkFailure, "decode_response", err)
	}

	raw, ok := payload["entries"]
	if !ok || raw == nil {
		c.logger.Warn("leaderboard_entries_missing").
			Component("extractor").
			Operation("decode_response").
			Log()
		return []RawEntry{}, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, newPipelineError(KindNetworkFailure, "decode_response", fmt.Errorf("entries is %T, want array", raw))
	}

	entries := make([]RawEntry, 0, len(list))
	skipped := 0
	for _, item := range list {
		obj, ok := item.(map[string]interface{})
		if !ok {
			skipped++
			continue
		}
		entries = append(entries, RawEntry(obj))
	}
	if skipped > 0 {
		c.logger.Warn("leaderboard_entries_skipped").
			Component("extractor").
			Operation("decode_response").
			Meta("skipped", skipped).
			Log()
	}
	return entries, nil
}

func (c *RiotAPIClient) writeBackup(body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "    "); err != nil {
		return newPipelineError(KindNetworkFailure, "write_raw_backup", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.RawBackupPath), 0o755); err != nil {
		return newPipelineError(KindPersistence, "write_raw_backup", err)
	}
	if err := os.WriteFile(c.RawBackupPath, buf.Bytes(), 0o644); err != nil {
		return newPipelineError(KindPersistence, "write_raw_backup", err)
	}
	c.logger.Info("raw_backup_written").
		Component("extractor").
		Operation("write_raw_backup").
		Meta("path", c.RawBackupPath).
		Meta("bytes", buf.Len()).
		Log()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
