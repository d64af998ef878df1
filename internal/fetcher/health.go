package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"vitalwatch/internal/model"
)

const (
	snapshotPath = "/health/{subject}"
	historyPath  = "/health/{subject}/history"
	simulatePath = "/health/{subject}/simulate"

	maxErrorDetail = 256

	// DefaultHistoryHours is the window requested when none is configured.
	DefaultHistoryHours = 24
)

// HealthOptions parameterise the health service client.
type HealthOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Health talks to the remote health service over HTTP.
type Health struct {
	opts   HealthOptions
	logger zerolog.Logger
	client *resty.Client
}

// NewHealth constructs a health service client.
func NewHealth(opts HealthOptions, logger zerolog.Logger) *Health {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}

	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "vitalwatch/1.0"
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetDisableWarn(true).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)

	return &Health{
		opts:   opts,
		logger: logger.With().Str("component", "health_client").Logger(),
		client: client,
	}
}

// FetchSnapshot retrieves the subject's current snapshot.
func (h *Health) FetchSnapshot(ctx context.Context, subjectID string) (model.Snapshot, error) {
	const op = "fetch snapshot"

	payload, err := h.get(ctx, op, snapshotPath, subjectID, nil)
	if err != nil {
		return model.Snapshot{}, err
	}

	snap, err := decodeSnapshot(payload)
	if err != nil {
		return model.Snapshot{}, decodeError(op, err)
	}
	return snap, nil
}

// FetchHistory retrieves the rolling history window. The order returned by the
// service is kept as is.
func (h *Health) FetchHistory(ctx context.Context, subjectID string, windowHours int) (model.HistorySeries, error) {
	const op = "fetch history"

	if windowHours <= 0 {
		windowHours = DefaultHistoryHours
	}

	query := map[string]string{"hours": strconv.Itoa(windowHours)}
	payload, err := h.get(ctx, op, historyPath, subjectID, query)
	if err != nil {
		return nil, err
	}

	series, err := decodeHistory(payload)
	if err != nil {
		return nil, decodeError(op, err)
	}
	if !series.Ascending() {
		h.logger.Warn().Str("subject", subjectID).Int("points", len(series)).Msg("history series is not in ascending timestamp order")
	}
	return series, nil
}

// SendSimulate asks the service to start simulating an accident. The result
// only becomes visible through later snapshot fetches.
func (h *Health) SendSimulate(ctx context.Context, subjectID string, accident model.AccidentType) error {
	const op = "simulate accident"

	if _, err := model.ParseAccidentType(string(accident)); err != nil {
		return err
	}
	if subjectID == "" {
		return networkError(op, errors.New("subject id required"))
	}

	resp, err := h.client.R().
		SetContext(ctx).
		SetPathParam("subject", subjectID).
		SetHeader("Content-Type", "application/json").
		SetBody(simulateRequest{AccidentType: accident}).
		Post(simulatePath)
	if err != nil {
		return networkError(op, err)
	}
	if !resp.IsSuccess() {
		return statusError(op, resp.StatusCode(), errorDetail(resp.Body()))
	}

	h.logger.Info().Str("subject", subjectID).Str("accident_type", string(accident)).Msg("accident simulation accepted")
	return nil
}

func (h *Health) get(ctx context.Context, op, path, subjectID string, query map[string]string) ([]byte, error) {
	if subjectID == "" {
		return nil, networkError(op, errors.New("subject id required"))
	}

	req := h.client.R().
		SetContext(ctx).
		SetPathParam("subject", subjectID)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	resp, err := req.Get(path)
	if err != nil {
		return nil, networkError(op, err)
	}
	if !resp.IsSuccess() {
		return nil, statusError(op, resp.StatusCode(), errorDetail(resp.Body()))
	}
	return resp.Body(), nil
}

type simulateRequest struct {
	AccidentType model.AccidentType `json:"accident_type"`
}

type errorResponse struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

// errorDetail extracts a short cause from an error body. FastAPI style
// {"detail": ...} bodies are unwrapped.
func errorDetail(payload []byte) string {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if len(apiErr.Detail) > 0 {
			var detail string
			if json.Unmarshal(apiErr.Detail, &detail) == nil && detail != "" {
				return truncate(detail)
			}
			return truncate(string(apiErr.Detail))
		}
		if apiErr.Message != "" {
			return truncate(apiErr.Message)
		}
	}
	return truncate(strings.TrimSpace(string(payload)))
}

func truncate(s string) string {
	if len(s) <= maxErrorDetail {
		return s
	}
	cut := maxErrorDetail
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

var _ HealthClient = (*Health)(nil)
