// Package rest talks to the session API over HTTP.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dialcare/consult/internal/core"
	"github.com/dialcare/consult/internal/domain"
)

// Client implements core.SessionStore against the relay's REST surface.
type Client struct {
	base string
	http *http.Client
}

func NewClient(base string) *Client {
	return &Client{
		base: base,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Fetch(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/v1/sessions/%s", id), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch session: %w", err)
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, core.ErrSessionNotFound
	case http.StatusGone:
		return nil, core.ErrSessionExpired
	default:
		return nil, fmt.Errorf("fetch session: unexpected status %d", resp.StatusCode)
	}

	var s domain.Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func (c *Client) RecordJoin(ctx context.Context, id domain.SessionID, participant domain.ParticipantID) error {
	body := map[string]string{"participant_id": string(participant)}
	return c.post(ctx, c.url("/api/v1/sessions/%s/join", id), body)
}

func (c *Client) RecordStart(ctx context.Context, id domain.SessionID) error {
	return c.post(ctx, c.url("/api/v1/sessions/%s/start", id), nil)
}

func (c *Client) RecordEnd(ctx context.Context, id domain.SessionID, status domain.SessionStatus) error {
	body := map[string]string{"status": string(status)}
	return c.post(ctx, c.url("/api/v1/sessions/%s/end", id), body)
}

func (c *Client) post(ctx context.Context, url string, body any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return core.ErrSessionNotFound
	case http.StatusGone:
		return core.ErrSessionExpired
	case http.StatusConflict:
		return core.ErrInvalidTransition
	default:
		return fmt.Errorf("post %s: unexpected status %d", url, resp.StatusCode)
	}
}

func (c *Client) url(format string, args ...any) string {
	return c.base + fmt.Sprintf(format, args...)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
