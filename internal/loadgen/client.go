package loadgen

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

	"github.com/cenkalti/backoff/v4"
	"github.com/okian/burnrank/internal/domain/types"
)

// maxSubmitRetries bounds resubmissions of a throttled event.
const maxSubmitRetries = 8

var (
	// ErrThrottled is returned when the service keeps answering 429.
	ErrThrottled = errors.New("service throttled the request")
	// ErrUnexpectedStatus is returned for any other non-success answer.
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// Ack is the POST /events response body.
type Ack struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
}

// Client talks to the burnrank HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for baseURL with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Ready reports whether GET /readyz answers 200.
func (c *Client) Ready(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/readyz", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: readyz %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

// Submit posts one event, retrying with exponential backoff while the
// service applies backpressure. retries counts the resubmissions.
func (c *Client) Submit(ctx context.Context, ev Event) (ack Ack, retries int, err error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return Ack{}, 0, fmt.Errorf("marshal event: %w", err)
	}

	attempt := 0
	op := func() error {
		attempt++
		resp, err := c.do(ctx, http.MethodPost, "/events", body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusAccepted:
			return json.NewDecoder(resp.Body).Decode(&ack)
		case http.StatusTooManyRequests:
			return ErrThrottled
		default:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, bytes.TrimSpace(msg)))
		}
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 10 * time.Millisecond
	eb.MaxInterval = time.Second
	err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, maxSubmitRetries), ctx))
	return ack, attempt - 1, err
}

// Rankings fetches a leaderboard. userID is optional.
func (c *Client) Rankings(ctx context.Context, period, category, date string, limit int, userID int64) (*Rankings, error) {
	q := url.Values{}
	q.Set("period", period)
	q.Set("limit", strconv.Itoa(limit))
	if category != "" {
		q.Set("category", category)
	}
	if date != "" {
		q.Set("date", date)
	}
	if userID > 0 {
		q.Set("user_id", strconv.FormatInt(userID, 10))
	}

	var out Rankings
	if err := c.getJSON(ctx, "/rankings?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UserRanking fetches one user's standing on a leaderboard.
func (c *Client) UserRanking(ctx context.Context, userID int64, period, category, date string) (*types.UserRanking, error) {
	q := url.Values{}
	q.Set("period", period)
	if category != "" {
		q.Set("category", category)
	}
	if date != "" {
		q.Set("date", date)
	}

	var out types.UserRanking
	path := "/rankings/users/" + strconv.FormatInt(userID, 10) + "?" + q.Encode()
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ServiceStats fetches GET /stats.
func (c *Client) ServiceStats(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if err := c.getJSON(ctx, "/stats", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: GET %s %d %s", ErrUnexpectedStatus, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}
