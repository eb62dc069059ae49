package carrier

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
)

const (
	defaultBaseURL             = "https://api.17track.net/track/v2.2"
	tokenHeader                = "17token"
	requestBodyReadLimit int64 = 1024
)

var errAPIKeyRequired = errors.New("carrier api key is required")

// Client talks to the tracking aggregator. It registers tracking numbers for
// push notifications and polls the latest status of a parcel.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	webhookSecret string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured tracking API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 && c.httpClient != nil {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithWebhookSecret sets the key used to verify pushed notifications.
func WithWebhookSecret(secret string) Option {
	return func(c *Client) {
		c.webhookSecret = strings.TrimSpace(secret)
	}
}

// NewClient builds the tracking client given an API token.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	client := &Client{
		apiKey:     trimmedKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}
	return client, nil
}

// Tracking identifies one parcel at the aggregator.
type Tracking struct {
	Number  string
	Carrier string
}

// TrackStatus is the latest known state of a parcel.
type TrackStatus struct {
	Number    string
	Status    string
	SubStatus string
	EventTime *time.Time
	Raw       string
}

type trackItem struct {
	Number  string `json:"number"`
	Carrier int    `json:"carrier,omitempty"`
}

type rejectedItem struct {
	Number string `json:"number"`
	Error  struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// TrackInfo is the track_info object shared by query responses and pushed
// notifications.
type TrackInfo struct {
	LatestStatus struct {
		Status    string `json:"status"`
		SubStatus string `json:"sub_status"`
	} `json:"latest_status"`
	LatestEvent struct {
		TimeISO     string `json:"time_iso"`
		Description string `json:"description"`
	} `json:"latest_event"`
}

// EventTime parses latest_event.time_iso. Blank or malformed values yield nil.
func (t TrackInfo) EventTime() *time.Time {
	iso := strings.TrimSpace(t.LatestEvent.TimeISO)
	if iso == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return nil
	}
	utc := parsed.UTC()
	return &utc
}

// Register subscribes a tracking number for push notifications. A number
// the aggregator already knows counts as registered.
func (c *Client) Register(ctx context.Context, tracking Tracking) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "carrier client not configured")
	}
	item, err := toTrackItem(tracking)
	if err != nil {
		return err
	}

	var apiResp struct {
		Code int `json:"code"`
		Data struct {
			Accepted []trackItem    `json:"accepted"`
			Rejected []rejectedItem `json:"rejected"`
		} `json:"data"`
	}
	if err := c.post(ctx, "register", []trackItem{item}, &apiResp); err != nil {
		return err
	}

	if apiResp.Code == 0 && len(apiResp.Data.Accepted) > 0 && len(apiResp.Data.Rejected) == 0 {
		return nil
	}
	if len(apiResp.Data.Rejected) > 0 && allAlreadyRegistered(apiResp.Data.Rejected) {
		return nil
	}
	msg := ""
	if len(apiResp.Data.Rejected) > 0 {
		msg = apiResp.Data.Rejected[0].Error.Message
	}
	return pkgerrors.New(pkgerrors.CodeDependency, "carrier rejected tracking registration").
		WithDetails(map[string]any{"code": apiResp.Code, "message": msg})
}

// Query fetches the latest status of a registered tracking number.
func (c *Client) Query(ctx context.Context, tracking Tracking) (*TrackStatus, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "carrier client not configured")
	}
	item, err := toTrackItem(tracking)
	if err != nil {
		return nil, err
	}

	var apiResp struct {
		Code int `json:"code"`
		Data struct {
			Accepted []struct {
				Number    string          `json:"number"`
				TrackInfo json.RawMessage `json:"track_info"`
			} `json:"accepted"`
			Rejected []rejectedItem `json:"rejected"`
		} `json:"data"`
	}
	if err := c.post(ctx, "gettrackinfo", []trackItem{item}, &apiResp); err != nil {
		return nil, err
	}
	if apiResp.Code != 0 || len(apiResp.Data.Accepted) == 0 {
		msg := ""
		if len(apiResp.Data.Rejected) > 0 {
			msg = apiResp.Data.Rejected[0].Error.Message
		}
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "carrier track query rejected").
			WithDetails(map[string]any{"code": apiResp.Code, "message": msg})
	}

	accepted := apiResp.Data.Accepted[0]
	var info TrackInfo
	if len(accepted.TrackInfo) > 0 && string(accepted.TrackInfo) != "null" {
		if err := json.Unmarshal(accepted.TrackInfo, &info); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode track info")
		}
	}
	return &TrackStatus{
		Number:    accepted.Number,
		Status:    info.LatestStatus.Status,
		SubStatus: info.LatestStatus.SubStatus,
		EventTime: info.EventTime(),
		Raw:       string(accepted.TrackInfo),
	}, nil
}

// VerifyWebhook checks the sign header of a pushed notification.
func (c *Client) VerifyWebhook(signature string, body []byte) bool {
	if c == nil {
		return false
	}
	return VerifySignature(c.webhookSecret, signature, body)
}

// Sign computes the hex sha256 of body + "/" + secret.
func Sign(secret string, body []byte) string {
	h := sha256.New()
	h.Write(body)
	h.Write([]byte("/"))
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature compares signature with Sign(secret, body), ignoring case.
func VerifySignature(secret, signature string, body []byte) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal "+path+" request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(path), bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build "+path+" request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(tokenHeader, c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute "+path+" request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), path+" request failed")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode "+path+" response")
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}

func toTrackItem(tracking Tracking) (trackItem, error) {
	number := strings.TrimSpace(tracking.Number)
	if number == "" {
		return trackItem{}, pkgerrors.New(pkgerrors.CodeValidation, "tracking number is required")
	}
	item := trackItem{Number: number}
	if code := strings.TrimSpace(tracking.Carrier); code != "" {
		// the aggregator keys carriers by numeric id; anything else is auto-detected
		if n, err := strconv.Atoi(code); err == nil {
			item.Carrier = n
		}
	}
	return item, nil
}

func allAlreadyRegistered(items []rejectedItem) bool {
	for _, item := range items {
		msg := strings.ToLower(strings.TrimSpace(item.Error.Message))
		if !(strings.Contains(msg, "already") || strings.Contains(msg, "exists") ||
			strings.Contains(msg, "duplicate") || strings.Contains(msg, "registered")) {
			return false
		}
	}
	return true
}
