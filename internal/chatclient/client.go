// Package chatclient talks to the assistant service: it streams chat replies
// and reads the measurement catalog.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bfalabs/bfa-assistant/internal/measurement"
	"github.com/bfalabs/bfa-assistant/internal/reliability"
	"github.com/bfalabs/bfa-assistant/internal/session"
	"github.com/bfalabs/bfa-assistant/internal/thinkstream"
)

const (
	apiPrefix         = "/api/v1/bfa"
	readBufferSize    = 4096
	defaultAPITimeout = 10 * time.Second
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	apiTimeout time.Duration
	sessionID  string
}

type Option func(*Client)

// WithHTTPClient replaces the transport client. Streaming calls rely on its
// Timeout being zero or long enough for a full reply.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithSessionID binds chat turns to a server session so they are recorded
// in its transcript and history.
func WithSessionID(id string) Option {
	return func(cl *Client) { cl.sessionID = strings.TrimSpace(id) }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{},
		apiTimeout: defaultAPITimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID returns the bound session, if any.
func (c *Client) SessionID() string { return c.sessionID }

// StreamChat posts message and calls onChunk with each piece of the raw
// streamed reply. Chunks always end on a rune boundary; <think> markup is
// passed through untouched.
func (c *Client) StreamChat(ctx context.Context, message string, onChunk func(string)) error {
	body, err := json.Marshal(map[string]string{
		"message":    message,
		"session_id": c.sessionID,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPrefix+"/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	var runes thinkstream.RuneBuffer
	buf := make([]byte, readBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if text := runes.Write(buf[:n]); text != "" && onChunk != nil {
				onChunk(text)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return readErr
		}
	}
	if rest := runes.Flush(); rest != "" && onChunk != nil {
		onChunk(rest)
	}
	return nil
}

// ListPersons returns the people who can log in.
func (c *Client) ListPersons(ctx context.Context) ([]measurement.Person, error) {
	var out []measurement.Person
	err := c.getData(ctx, "/persons", nil, &out)
	return out, err
}

// ListTasks returns pending tasks, all of them when personID is empty.
func (c *Client) ListTasks(ctx context.Context, personID string) ([]measurement.Task, error) {
	q := url.Values{}
	if personID != "" {
		q.Set("person_id", personID)
	}
	var out []measurement.Task
	err := c.getData(ctx, "/tasks", q, &out)
	return out, err
}

// CreateSession opens a server session and binds the client to it.
func (c *Client) CreateSession(ctx context.Context, personID string) (session.CreateResponse, error) {
	var out session.CreateResponse
	if err := c.postData(ctx, "/sessions", session.CreateRequest{PersonID: personID}, &out); err != nil {
		return out, err
	}
	c.sessionID = out.SessionID
	return out, nil
}

func (c *Client) getData(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + apiPrefix + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	ctx, cancel := context.WithTimeout(ctx, c.apiTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.doData(req, out)
}

func (c *Client) postData(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.apiTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPrefix+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doData(req, out)
}

func (c *Client) doData(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	envelope := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Error string `json:"error"`
	}
	detail := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
		detail = apiErr.Error
	}
	return &reliability.StatusError{StatusCode: resp.StatusCode, Body: detail}
}
