package internal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type recordingSleeper struct {
	waits []time.Duration
	err   error
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return s.err
}

func (s *recordingSleeper) total() time.Duration {
	var sum time.Duration
	for _, w := range s.waits {
		sum += w
	}
	return sum
}

type mockRateLimiter struct {
	allow []bool
	err   error
	calls int
}

func (m *mockRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	if len(m.allow) == 0 {
		return true, nil
	}
	a := m.allow[0]
	m.allow = m.allow[1:]
	return a, nil
}

const challengerPayload = `{"tier":"CHALLENGER","leagueId":"l-1","queue":"RANKED_SOLO_5x5","name":"Test","entries":[{"summonerId":"a","summonerName":"Faker","leaguePoints":1500,"wins":60,"losses":40},{"summonerId":"b","leaguePoints":1400,"wins":30,"losses":10}]}`

// newRiotTestServer answers with the given status codes in order and then
// keeps repeating the last one.
func newRiotTestServer(t *testing.T, statuses []int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1)) - 1
		if r.Header.Get("X-Riot-Token") != "RGAPI-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		status := statuses[len(statuses)-1]
		if n < len(statuses) {
			status = statuses[n]
		}
		w.WriteHeader(status)
		if status == http.StatusOK {
			w.Write([]byte(body))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestRiotClient(t *testing.T, url string, limiter RateLimiterInterface) (*RiotAPIClient, *recordingSleeper) {
	t.Helper()
	cfg := createTestConfig(t)
	cfg.LeaderboardURL = url
	client := NewRiotAPIClient(cfg, limiter, createTestLogger())
	sleeper := &recordingSleeper{}
	client.SetSleeper(sleeper.sleep)
	return client, sleeper
}

func TestRiotAPIClient_FetchSuccessWritesBackup(t *testing.T) {
	srv, calls := newRiotTestServer(t, []int{http.StatusOK}, challengerPayload)
	client, sleeper := newTestRiotClient(t, srv.URL, nil)

	entries, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0]["summonerName"] != "Faker" {
		t.Errorf("unexpected first entry %v", entries[0])
	}
	if *calls != 1 || len(sleeper.waits) != 0 {
		t.Errorf("expected a single call without waits, got %d calls %v", *calls, sleeper.waits)
	}

	data, err := os.ReadFile(client.RawBackupPath)
	if err != nil {
		t.Fatalf("backup not written: %v", err)
	}
	if !strings.Contains(string(data), "\n    \"tier\": \"CHALLENGER\"") {
		t.Errorf("backup should be indented with 4 spaces:\n%s", data)
	}
}

func TestRiotAPIClient_RateLimitBackoffSchedule(t *testing.T) {
	srv, calls := newRiotTestServer(t, []int{http.StatusTooManyRequests}, "")
	client, sleeper := newTestRiotClient(t, srv.URL, nil)

	_, err := client.Fetch(context.Background())
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("expected RateLimitExceeded, got %v", err)
	}
	if *calls != 3 {
		t.Errorf("expected 3 attempts, got %d", *calls)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(sleeper.waits) != len(want) {
		t.Fatalf("expected waits %v, got %v", want, sleeper.waits)
	}
	for i := range want {
		if sleeper.waits[i] != want[i] {
			t.Errorf("wait %d: expected %s, got %s", i, want[i], sleeper.waits[i])
		}
	}
	if sleeper.total() != 14*time.Second {
		t.Errorf("expected 14s total backoff, got %s", sleeper.total())
	}
	if _, err := os.Stat(client.RawBackupPath); !os.IsNotExist(err) {
		t.Error("no backup should be written on failure")
	}
}

func TestRiotAPIClient_ClientErrorsAreNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv, calls := newRiotTestServer(t, []int{status}, "")
			client, sleeper := newTestRiotClient(t, srv.URL, nil)

			_, err := client.Fetch(context.Background())
			if !errors.Is(err, ErrNetworkFailure) {
				t.Fatalf("expected NetworkFailure, got %v", err)
			}
			if *calls != 1 || len(sleeper.waits) != 0 {
				t.Errorf("expected one attempt and no waits, got %d calls %v", *calls, sleeper.waits)
			}
		})
	}
}

func TestRiotAPIClient_ServerErrorThenSuccess(t *testing.T) {
	srv, calls := newRiotTestServer(t, []int{http.StatusInternalServerError, http.StatusOK}, challengerPayload)
	client, sleeper := newTestRiotClient(t, srv.URL, nil)

	entries, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(entries) != 2 || *calls != 2 {
		t.Errorf("expected recovery on the second attempt, got %d entries after %d calls", len(entries), *calls)
	}
	if len(sleeper.waits) != 1 || sleeper.waits[0] != 2*time.Second {
		t.Errorf("expected one 2s wait, got %v", sleeper.waits)
	}
}

func TestRiotAPIClient_ServerErrorsExhaustRetries(t *testing.T) {
	srv, calls := newRiotTestServer(t, []int{http.StatusServiceUnavailable}, "")
	client, sleeper := newTestRiotClient(t, srv.URL, nil)

	_, err := client.Fetch(context.Background())
	if !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("expected NetworkFailure, got %v", err)
	}
	if *calls != 3 {
		t.Errorf("expected 3 attempts, got %d", *calls)
	}
	if len(sleeper.waits) != 2 {
		t.Errorf("expected no wait after the last attempt, got %v", sleeper.waits)
	}
}

func TestRiotAPIClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	client, sleeper := newTestRiotClient(t, url, nil)
	_, err := client.Fetch(context.Background())
	if !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("expected NetworkFailure, got %v", err)
	}
	if len(sleeper.waits) != 2 {
		t.Errorf("expected 2 waits between 3 attempts, got %v", sleeper.waits)
	}
}

func TestRiotAPIClient_MalformedBody(t *testing.T) {
	srv, _ := newRiotTestServer(t, []int{http.StatusOK}, `{"entries": [`)
	client, _ := newTestRiotClient(t, srv.URL, nil)

	_, err := client.Fetch(context.Background())
	if !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("expected NetworkFailure, got %v", err)
	}
	if _, err := os.Stat(client.RawBackupPath); !os.IsNotExist(err) {
		t.Error("no backup should be written for an unusable body")
	}
}

func TestRiotAPIClient_MissingEntriesKey(t *testing.T) {
	srv, _ := newRiotTestServer(t, []int{http.StatusOK}, `{"tier":"CHALLENGER"}`)
	client, _ := newTestRiotClient(t, srv.URL, nil)

	entries, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("missing entries is not an extraction failure: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty batch, got %d", len(entries))
	}
	if _, err := os.Stat(client.RawBackupPath); err != nil {
		t.Errorf("backup should still be written: %v", err)
	}
}

func TestRiotAPIClient_LocalLimiterDenialBacksOff(t *testing.T) {
	srv, calls := newRiotTestServer(t, []int{http.StatusOK}, challengerPayload)
	limiter := &mockRateLimiter{allow: []bool{false, true}}
	client, sleeper := newTestRiotClient(t, srv.URL, limiter)

	if _, err := client.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if limiter.calls != 2 || *calls != 1 {
		t.Errorf("expected the denied attempt to skip the request, got %d limiter calls %d requests", limiter.calls, *calls)
	}
	if len(sleeper.waits) != 1 || sleeper.waits[0] != 2*time.Second {
		t.Errorf("expected one 2s wait, got %v", sleeper.waits)
	}
}

func TestRiotAPIClient_LimiterErrorFailsOpen(t *testing.T) {
	srv, _ := newRiotTestServer(t, []int{http.StatusOK}, challengerPayload)
	client, _ := newTestRiotClient(t, srv.URL, &mockRateLimiter{err: errors.New("redis down")})

	if _, err := client.Fetch(context.Background()); err != nil {
		t.Fatalf("limiter errors should not block extraction: %v", err)
	}
}

func TestRiotAPIClient_CancelledDuringBackoff(t *testing.T) {
	srv, calls := newRiotTestServer(t, []int{http.StatusTooManyRequests}, "")
	client, sleeper := newTestRiotClient(t, srv.URL, nil)
	sleeper.err = context.Canceled

	_, err := client.Fetch(context.Background())
	if !errors.Is(err, ErrNetworkFailure) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected NetworkFailure wrapping cancellation, got %v", err)
	}
	if *calls != 1 {
		t.Errorf("expected to stop after the first attempt, got %d", *calls)
	}
}

func TestLeaderboardURLForRegion(t *testing.T) {
	tests := []struct {
		region string
		host   string
	}{
		{"KR", "kr.api.riotgames.com"},
		{"na1", "na1.api.riotgames.com"},
		{"EUW1", "euw1.api.riotgames.com"},
		{"unknown", "kr.api.riotgames.com"},
	}

	for _, tt := range tests {
		got := LeaderboardURLForRegion(tt.region)
		if !strings.HasPrefix(got, "https://"+tt.host+"/lol/league/v4/challengerleagues/by-queue/RANKED_SOLO_5x5") {
			t.Errorf("%s: unexpected URL %s", tt.region, got)
		}
	}
	if LeaderboardURLForRegion("KR") != DefaultLeaderboardURL {
		t.Error("KR should map to the default endpoint")
	}
}
