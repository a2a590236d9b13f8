// Package apiclient talks to the construction-management REST API on behalf of
// one authenticated session.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/urquidy/mhl-homes-frontend-sub001/internal/errs"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/model"
	"go.uber.org/zap"
)

const (
	// TenantHeader carries the tenant identifier on every request.
	TenantHeader = "X-Tenant-ID"

	defaultTimeout  = 30 * time.Second
	maxErrorPreview = 512

	opListEvents        = "apiclient.list_events"
	opCreateEvent       = "apiclient.create_event"
	opUpdateEvent       = "apiclient.update_event"
	opDeleteEvent       = "apiclient.delete_event"
	opListNotifications = "apiclient.list_notifications"
	opMarkRead          = "apiclient.mark_read"
	opMarkAllRead       = "apiclient.mark_all_read"
)

var (
	errMissingBaseURL = errors.New("apiclient: base url is required")
	errMissingTenant  = errors.New("apiclient: tenant id is required")
	errMissingToken   = errors.New("apiclient: session token is required")
)

// Config describes one session-bound API client.
type Config struct {
	BaseURL    string
	TenantID   string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
	// OnAuthFailure receives 401 and invalid-tenant failures for the auth and
	// tenant collaborators. The error is still returned to the caller.
	OnAuthFailure func(error)
}

// Client is a REST client bound to a single session credential.
type Client struct {
	baseURL       *url.URL
	tenantID      string
	token         string
	httpClient    *http.Client
	logger        *zap.Logger
	onAuthFailure func(error)
}

// New validates cfg and constructs a Client.
func New(cfg Config) (*Client, error) {
	rawBase := strings.TrimSpace(cfg.BaseURL)
	if rawBase == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(rawBase, "/"))
	if err != nil {
		return nil, fmt.Errorf("apiclient: parse base url: %w", err)
	}
	tenantID := strings.TrimSpace(cfg.TenantID)
	if tenantID == "" {
		return nil, errMissingTenant
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errMissingToken
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:       baseURL,
		tenantID:      tenantID,
		token:         token,
		httpClient:    httpClient,
		logger:        logger,
		onAuthFailure: cfg.OnAuthFailure,
	}, nil
}

// NotificationPage is one server page of notification history, newest first.
type NotificationPage struct {
	Items   []model.NotificationPayload
	Page    int
	Limit   int
	Total   int
	HasMore bool
}

type notificationPageBody struct {
	Data  []model.NotificationPayload `json:"data"`
	Page  int                         `json:"page"`
	Limit int                         `json:"limit"`
	Total *int                        `json:"total"`
}

type listBody[T any] struct {
	Data []T `json:"data"`
}

type errorBody struct {
	Error string `json:"error"`
}

// ListEvents fetches the full agenda collection.
func (c *Client) ListEvents(ctx context.Context) ([]model.CalendarEvent, error) {
	var events []model.CalendarEvent
	if err := c.doList(ctx, opListEvents, "/api/agenda", &events); err != nil {
		return nil, err
	}
	return events, nil
}

// CreateEvent submits a draft and returns the server-assigned entity.
func (c *Client) CreateEvent(ctx context.Context, draft model.EventDraft) (model.CalendarEvent, error) {
	var created model.CalendarEvent
	if err := c.do(ctx, opCreateEvent, http.MethodPost, "/api/agenda", draft, &created); err != nil {
		return model.CalendarEvent{}, err
	}
	if created.ID.IsZero() {
		return model.CalendarEvent{}, &errs.FetchError{Operation: opCreateEvent, Err: errors.New("response missing id")}
	}
	return created, nil
}

// UpdateEvent submits a full replacement. A response without a body echoes event.
func (c *Client) UpdateEvent(ctx context.Context, event model.CalendarEvent) (model.CalendarEvent, error) {
	var updated model.CalendarEvent
	path := "/api/agenda/" + url.PathEscape(event.ID.String())
	if err := c.do(ctx, opUpdateEvent, http.MethodPut, path, event.Draft(), &updated); err != nil {
		return model.CalendarEvent{}, err
	}
	if updated.ID.IsZero() {
		return event.Clone(), nil
	}
	return updated, nil
}

// DeleteEvent removes an agenda item.
func (c *Client) DeleteEvent(ctx context.Context, id model.ID) error {
	return c.do(ctx, opDeleteEvent, http.MethodDelete, "/api/agenda/"+url.PathEscape(id.String()), nil, nil)
}

// ListNotifications fetches one page of history.
func (c *Client) ListNotifications(ctx context.Context, page, limit int) (NotificationPage, error) {
	if page < 1 {
		page = 1
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	raw, err := c.exchange(ctx, opListNotifications, http.MethodGet, "/api/notifications?"+query.Encode(), nil)
	if err != nil {
		return NotificationPage{}, err
	}

	result := NotificationPage{Page: page, Limit: limit}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &result.Items); err != nil {
			return NotificationPage{}, &errs.FetchError{Operation: opListNotifications, Err: fmt.Errorf("decode: %w", err)}
		}
		result.HasMore = limit > 0 && len(result.Items) >= limit
		return result, nil
	}

	var body notificationPageBody
	if len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &body); err != nil {
			return NotificationPage{}, &errs.FetchError{Operation: opListNotifications, Err: fmt.Errorf("decode: %w", err)}
		}
	}
	result.Items = body.Data
	if body.Page > 0 {
		result.Page = body.Page
	}
	if body.Limit > 0 {
		result.Limit = body.Limit
	}
	switch {
	case body.Total != nil:
		result.Total = *body.Total
		result.HasMore = result.Limit > 0 && result.Page*result.Limit < result.Total
	default:
		result.HasMore = result.Limit > 0 && len(result.Items) >= result.Limit
	}
	return result, nil
}

// MarkNotificationRead confirms the read flag of one notification.
func (c *Client) MarkNotificationRead(ctx context.Context, id model.ID) error {
	return c.do(ctx, opMarkRead, http.MethodPut, "/api/notifications/"+url.PathEscape(id.String())+"/read", nil, nil)
}

// MarkAllNotificationsRead confirms the read flag of every notification.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, opMarkAllRead, http.MethodPut, "/api/notifications/read-all", nil, nil)
}

func (c *Client) doList(ctx context.Context, operation, path string, out *[]model.CalendarEvent) error {
	raw, err := c.exchange(ctx, operation, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		*out = nil
		return nil
	}
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, out); err != nil {
			return &errs.FetchError{Operation: operation, Err: fmt.Errorf("decode: %w", err)}
		}
		return nil
	}
	var wrapped listBody[model.CalendarEvent]
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return &errs.FetchError{Operation: operation, Err: fmt.Errorf("decode: %w", err)}
	}
	*out = wrapped.Data
	return nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, out any) error {
	raw, err := c.exchange(ctx, operation, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &errs.FetchError{Operation: operation, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

func (c *Client) exchange(ctx context.Context, operation, method, path string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, &errs.FetchError{Operation: operation, Err: fmt.Errorf("marshal body: %w", err)}
		}
		reqBody = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reqBody)
	if err != nil {
		return nil, &errs.FetchError{Operation: operation, Err: fmt.Errorf("create request: %w", err)}
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set(TenantHeader, c.tenantID)
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, &errs.FetchError{Operation: operation, Err: fmt.Errorf("do request: %w", err)}
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &errs.FetchError{Operation: operation, StatusCode: response.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if response.StatusCode >= http.StatusBadRequest {
		fetchErr := &errs.FetchError{Operation: operation, StatusCode: response.StatusCode}
		var decoded errorBody
		if json.Unmarshal(raw, &decoded) == nil {
			fetchErr.Code = decoded.Error
		}
		c.logger.Debug("api request rejected",
			zap.String("operation", operation),
			zap.Int("status", response.StatusCode),
			zap.String("body", preview(raw)))
		if errs.IsAuthFailure(fetchErr) && c.onAuthFailure != nil {
			c.onAuthFailure(fetchErr)
		}
		return nil, fetchErr
	}

	return raw, nil
}

func preview(raw []byte) string {
	if len(raw) > maxErrorPreview {
		return string(raw[:maxErrorPreview])
	}
	return string(raw)
}
