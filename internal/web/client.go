package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/datex/internal/domain"
)

// Client talks to a running engine's API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx answer of the API.
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return e.Message + " (" + e.Kind + ")"
	}
	return e.Message
}

// Buy submits a purchase through the engine.
func (c *Client) Buy(ctx context.Context, item domain.Item) (domain.PurchaseResult, error) {
	var resp purchaseResponse
	err := c.do(ctx, http.MethodPost, "/purchases", purchaseRequest{
		ID:     item.ID,
		Title:  item.Title,
		Seller: item.Seller,
		Price:  item.Price,
	}, &resp)
	if err != nil {
		return domain.PurchaseResult{}, err
	}

	return domain.PurchaseResult{OrderID: resp.OrderID, Hash: resp.Hash, SubmittedAt: resp.SubmittedAt}, nil
}

// Status returns the engine's readiness view as reported by GET /status.
func (c *Client) Status(ctx context.Context) (StatusView, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return StatusView{}, err
	}
	return StatusView{
		State:   resp.State.String(),
		Status:  resp.Status,
		Address: resp.Address,
		Error:   resp.Error,
	}, nil
}

// StatusView is the client side summary of GET /status.
type StatusView struct {
	State   string
	Status  string
	Address string
	Error   string
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error, Kind: apiErr.Kind}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}
