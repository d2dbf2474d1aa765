package worksafesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal worksafe HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// ShareToken opens a single shared work order as a guest.
	ShareToken string
	// ActorID is sent as X-Actor-Id for servers that still accept it.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// WorkOrder represents the API work order model.
type WorkOrder struct {
	ID        string `json:"id"`
	No        string `json:"no"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	SubNo     string `json:"subNo,omitempty"`
	Applicant string `json:"applicant,omitempty"`
	Remark    string `json:"remark,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// Item is one line of a work order.
type Item struct {
	ID          string  `json:"id"`
	WorkOrderID string  `json:"workOrderId"`
	No          string  `json:"no"`
	Name        string  `json:"name"`
	Qty         float64 `json:"qty"`
	Price       float64 `json:"price"`
	Remark      string  `json:"remark,omitempty"`
}

type Signature struct {
	Image string `json:"img"`
	Date  string `json:"date"`
}

// Agreement is the safety agreement attached to a work order.
type Agreement struct {
	WoNo                 string               `json:"woNo"`
	WoName               string               `json:"woName"`
	Contractor           string               `json:"contractor"`
	DurationOption       string               `json:"durationOption"`
	DurationDays         string               `json:"durationDays,omitempty"`
	DurationCoop         string               `json:"durationCoop,omitempty"`
	DurationCalendarDays string               `json:"durationCalendarDays,omitempty"`
	DurationDate         string               `json:"durationDate,omitempty"`
	SafetyChecks         []int                `json:"safetyChecks"`
	Signatures           map[string]Signature `json:"signatures"`
}

type AgreementView struct {
	WorkOrderID string    `json:"workOrderId"`
	Stored      bool      `json:"stored"`
	Agreement   Agreement `json:"agreement"`
}

type SignResult struct {
	Changed   bool      `json:"changed"`
	Agreement Agreement `json:"agreement"`
}

type MergeResult struct {
	Items   []Item `json:"items"`
	Updated int    `json:"updated"`
	Created int    `json:"created"`
}

type ShareLink struct {
	Token     string `json:"token"`
	Link      string `json:"link,omitempty"`
	ExpiresAt string `json:"expiresAt"`
}

// Event represents an audit entry.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entityKind"`
	EntityID   string         `json:"entityId"`
	ActorID    string         `json:"actorId"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  string         `json:"createdAt"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateWorkOrder creates a work order without an agreement.
func (c *Client) CreateWorkOrder(ctx context.Context, no, name string) (WorkOrder, error) {
	var resp struct {
		WorkOrder WorkOrder `json:"workOrder"`
	}
	err := c.do(ctx, http.MethodPost, "work-orders", map[string]any{"no": no, "name": name}, &resp)
	return resp.WorkOrder, err
}

// WorkOrders lists the caller's work orders, optionally by status.
func (c *Client) WorkOrders(ctx context.Context, status string) ([]WorkOrder, error) {
	endpoint := "work-orders"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []WorkOrder
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AddItem adds an item; name and price may be filled from the catalog.
func (c *Client) AddItem(ctx context.Context, woID, no string, qty float64) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, workOrderPath(woID, "items"), map[string]any{"no": no, "qty": qty}, &resp)
	return resp, err
}

// Agreement returns the agreement of a work order.
func (c *Client) Agreement(ctx context.Context, woID string) (AgreementView, error) {
	var resp AgreementView
	err := c.do(ctx, http.MethodGet, workOrderPath(woID, "agreement"), nil, &resp)
	return resp, err
}

// SetField edits one agreement field.
func (c *Client) SetField(ctx context.Context, woID, field, value string) (Agreement, bool, error) {
	var resp struct {
		Persisted bool      `json:"persisted"`
		Agreement Agreement `json:"agreement"`
	}
	err := c.do(ctx, http.MethodPatch, workOrderPath(woID, "agreement/fields"), map[string]any{"field": field, "value": value}, &resp)
	return resp.Agreement, resp.Persisted, err
}

// Sign captures a drawn signature image into a role slot.
func (c *Client) Sign(ctx context.Context, woID, role, image string) (SignResult, error) {
	var resp SignResult
	endpoint := workOrderPath(woID, "signatures/"+url.PathEscape(role)+"/sign")
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"image": image}, &resp)
	return resp, err
}

// Stamp fills a role slot with the caller's stored signature.
func (c *Client) Stamp(ctx context.Context, woID, role string) (SignResult, error) {
	var resp SignResult
	endpoint := workOrderPath(woID, "signatures/"+url.PathEscape(role)+"/stamp")
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Merge folds the items of sources into the destination work order.
func (c *Client) Merge(ctx context.Context, destID string, sources []string) (MergeResult, error) {
	var resp MergeResult
	err := c.do(ctx, http.MethodPost, workOrderPath(destID, "merge"), map[string]any{"sources": sources}, &resp)
	return resp, err
}

// Share issues a guest signing link for a work order.
func (c *Client) Share(ctx context.Context, woID string, ttlHours int, baseURL string) (ShareLink, error) {
	var resp ShareLink
	body := map[string]any{"ttlHours": ttlHours}
	if baseURL != "" {
		body["baseUrl"] = baseURL
	}
	err := c.do(ctx, http.MethodPost, workOrderPath(woID, "share"), body, &resp)
	return resp, err
}

// Events returns the caller's audit events, optionally filtered.
func (c *Client) Events(ctx context.Context, evtType, entityID string) ([]Event, error) {
	q := url.Values{}
	if evtType != "" {
		q.Set("type", evtType)
	}
	if entityID != "" {
		q.Set("entityId", entityID)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	if c.ShareToken != "" {
		req.Header.Set("X-Share-Token", c.ShareToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func workOrderPath(id, p string) string {
	return fmt.Sprintf("work-orders/%s/%s", url.PathEscape(id), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
