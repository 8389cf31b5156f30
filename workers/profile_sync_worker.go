package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"member-progression/services"
)

// RemoteProfile is the subset of the profile service's change feed this worker reads.
type RemoteProfile struct {
	ExternalID        string    `json:"external_id"`
	ProfileCompletion bool      `json:"profile_completion"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type profileChangesResponse struct {
	Users []RemoteProfile `json:"users"`
}

// ProfileCreditor pays the one-time profile completion reward.
type ProfileCreditor interface {
	CreditProfileComplete(ctx context.Context, userID string) (*services.CreditResult, error)
}

// ProfileSyncWorker polls the profile service's change feed and credits
// profile completion XP for users whose profile became complete.
type ProfileSyncWorker struct {
	creditor     ProfileCreditor
	interval     time.Duration
	baseURL      string // e.g. "http://localhost:8500"
	endpointPath string // e.g. "/api/v1/public/profiles"
	serviceToken string
	httpClient   *http.Client
	log          *slog.Logger

	since time.Time
}

func NewProfileSyncWorker(creditor ProfileCreditor, baseURL, endpointPath, serviceToken string, interval time.Duration, log *slog.Logger) *ProfileSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ProfileSyncWorker{
		creditor:     creditor,
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With("component", "profile_sync_worker"),
	}
}

func (w *ProfileSyncWorker) Start(ctx context.Context) {
	w.log.Info("starting profile sync worker", "base_url", w.baseURL)
	go w.run(ctx)
}

func (w *ProfileSyncWorker) run(ctx context.Context) {
	if err := w.syncOnce(ctx); err != nil {
		w.log.Warn("initial profile sync failed", "error", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.syncOnce(ctx); err != nil {
				w.log.Error("profile sync failed", "error", err)
			}
		case <-ctx.Done():
			w.log.Info("profile sync worker stopped")
			return
		}
	}
}

// syncOnce fetches changes since the last seen update and credits completed profiles.
func (w *ProfileSyncWorker) syncOnce(ctx context.Context) error {
	users, err := w.fetchChanges(ctx, w.since)
	if err != nil {
		return err
	}

	credited := 0
	for _, u := range users {
		if u.UpdatedAt.After(w.since) {
			w.since = u.UpdatedAt
		}
		if !u.ProfileCompletion || u.ExternalID == "" {
			continue
		}
		_, err := w.creditor.CreditProfileComplete(ctx, u.ExternalID)
		switch {
		case err == nil:
			credited++
		case errors.Is(err, services.ErrAlreadyCompleted):
		default:
			// keep the cursor short of this user so the next poll retries
			w.since = u.UpdatedAt.Add(-time.Nanosecond)
			return fmt.Errorf("credit profile completion for %s: %w", u.ExternalID, err)
		}
	}
	if len(users) > 0 {
		w.log.Info("profile changes processed", "users", len(users), "credited", credited)
	}
	return nil
}

func (w *ProfileSyncWorker) fetchChanges(ctx context.Context, since time.Time) ([]RemoteProfile, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid profile service URL %q: %w", w.baseURL, err)
	}
	endpoint := base.JoinPath(w.endpointPath)
	q := endpoint.Query()
	q.Set("since", since.UTC().Format(time.RFC3339Nano))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile service request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("profile service returned %d: %s", resp.StatusCode, string(body))
	}

	var out profileChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode profile changes: %w", err)
	}
	return out.Users, nil
}
