package internal

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLeaderboardLimit = 20
	maxLeaderboardLimit     = 300
)

type APIError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (e APIError) Error() string {
	return e.Message
}

func NewAPIError(message string, status int) APIError {
	return APIError{Message: message, Status: status}
}

func writeError(w http.ResponseWriter, err error, logger *Logger, r *http.Request) {
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		apiErr = NewAPIError("Internal server error", http.StatusInternalServerError)
	}

	requestID := GetRequestID(r.Context())

	logger.Error("api_error").
		Component("http").
		Operation("write_error").
		HTTP(r.Method, r.URL.Path, apiErr.Status).
		Request(requestID).
		Err(err).
		ErrorCode(strconv.Itoa(apiErr.Status)).
		Log()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     apiErr.Message,
		"status":    apiErr.Status,
		"timestamp": time.Now().Unix(),
		"requestId": requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}, logger *Logger, r *http.Request) {
	body, err := json.Marshal(data)
	if err != nil {
		logger.Error("json_encode_failed").
			Component("http").
			Operation("write_json").
			Request(GetRequestID(r.Context())).
			Err(err).
			Log()
		writeError(w, NewAPIError("Failed to encode response", http.StatusInternalServerError), logger, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// RunStatus is what the ops handlers need from the orchestrator.
type RunStatus interface {
	State() State
	LastRun() (RunResult, bool)
}

type SnapshotReader interface {
	LatestSnapshot(ctx context.Context, region string) (*Snapshot, error)
}

type LeaderboardReader interface {
	Top(ctx context.Context, n int) ([]PlayerRecord, error)
}

// RunTrigger queues a run and returns its id.
type RunTrigger func(ctx context.Context, mode RunMode) (string, error)

type RouterDeps struct {
	Runs      RunStatus
	Snapshots SnapshotReader
	Store     LeaderboardReader
	Trigger   RunTrigger
	Metrics   *Metrics
	Region    string
	Logger    *Logger
}

func NewRouter(d RouterDeps) *mux.Router {
	r := mux.NewRouter()
	r.Use(NewLoggingMiddleware(d.Logger, d.Metrics).Middleware)

	r.HandleFunc("/healthz", HealthHandler(d.Runs, d.Logger)).Methods(http.MethodGet)
	r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/runs/last", LastRunHandler(d.Runs, d.Logger)).Methods(http.MethodGet)
	r.HandleFunc("/leaderboard", LeaderboardHandler(d.Snapshots, d.Store, d.Region, d.Logger)).Methods(http.MethodGet)
	if d.Trigger != nil {
		r.HandleFunc("/runs", TriggerRunHandler(d.Trigger, d.Logger)).Methods(http.MethodPost)
	}
	return r
}

func HealthHandler(runs RunStatus, logger *Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
			"state":     runs.State(),
		}
		if last, ok := runs.LastRun(); ok {
			body["last_run_state"] = last.State
			body["last_run_finished_at"] = last.FinishedAt
		}
		writeJSON(w, http.StatusOK, body, logger, r)
	}
}

func LastRunHandler(runs RunStatus, logger *Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		last, ok := runs.LastRun()
		if !ok {
			writeError(w, NewAPIError("No run has completed yet", http.StatusNotFound), logger, r)
			return
		}
		writeJSON(w, http.StatusOK, last, logger, r)
	}
}

// LeaderboardHandler serves the cached snapshot and falls back to the store
// when the cache is off or empty.
func LeaderboardHandler(snapshots SnapshotReader, store LeaderboardReader, region string, logger *Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultLeaderboardLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxLeaderboardLimit {
				writeError(w, NewAPIError("limit must be between 1 and 300", http.StatusBadRequest), logger, r)
				return
			}
			limit = n
		}

		if snapshots != nil {
			snap, err := snapshots.LatestSnapshot(r.Context(), region)
			switch {
			case err == nil:
				players := snap.Players
				if len(players) > limit {
					players = players[:limit]
				}
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"source":      "cache",
					"run_id":      snap.RunID,
					"loaded_at":   snap.LoadedAt,
					"total_count": snap.TotalCount,
					"players":     players,
				}, logger, r)
				return
			case !errors.Is(err, redis.Nil):
				logger.Warn("snapshot_read_failed").
					Component("leaderboard").
					Operation("get_snapshot").
					Request(GetRequestID(r.Context())).
					Err(err).
					Log()
			}
		}

		if store == nil {
			writeError(w, NewAPIError("Leaderboard not available", http.StatusServiceUnavailable), logger, r)
			return
		}
		players, err := store.Top(r.Context(), limit)
		if err != nil {
			logger.Error("leaderboard_query_failed").
				Component("leaderboard").
				Operation("top").
				Request(GetRequestID(r.Context())).
				Err(err).
				Log()
			writeError(w, NewAPIError("Failed to read leaderboard", http.StatusBadGateway), logger, r)
			return
		}
		if players == nil {
			players = []PlayerRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"source":  "store",
			"players": players,
		}, logger, r)
	}
}

func TriggerRunHandler(trigger RunTrigger, logger *Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := ModeFull
		if v := r.URL.Query().Get("mode"); v != "" {
			m, err := ParseRunMode(v)
			if err != nil {
				writeError(w, NewAPIError(err.Error(), http.StatusBadRequest), logger, r)
				return
			}
			mode = m
		}

		runID, err := trigger(r.Context(), mode)
		if err != nil {
			writeError(w, NewAPIError("Failed to queue run", http.StatusServiceUnavailable), logger, r)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"run_id": runID,
			"mode":   mode,
		}, logger, r)
	}
}
