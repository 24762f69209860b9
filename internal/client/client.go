// Package client is the RPC client for a weft sync server. It speaks plain
// HTTP over a local socket (unix on POSIX, named pipe on Windows) or TCP, and
// implements the loader and event-stream collaborators the engine consumes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	stdpath "path"
	"path/filepath"
	"time"

	"github.com/charmbracelet/weft/internal/proto"
)

// DummyHost satisfies the http.Client's requirement for a URL on socket
// connections.
const DummyHost = "api.weft.localhost"

// Client represents an RPC client connected to a weft server.
type Client struct {
	h       *http.Client
	network string
	addr    string
}

// DefaultClient creates a new [Client] connected to the default server
// address: WEFT_HOST when set, otherwise a unix socket under the user cache
// directory.
func DefaultClient() (*Client, error) {
	if host := os.Getenv("WEFT_HOST"); host != "" {
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("client: parse WEFT_HOST: %w", err)
		}
		return NewClient(u.Scheme, u.Host)
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	return NewClient("unix", filepath.Join(dir, "weft", "weft.sock"))
}

// NewClient creates a new [Client] connected to the server at the given
// network and address.
func NewClient(network, address string) (*Client, error) {
	c := &Client{network: network, addr: address}
	p := &http.Protocols{}
	p.SetHTTP1(true)
	p.SetUnencryptedHTTP2(true)
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Protocols = p
	tr.DialContext = c.dialer
	if c.network == "npipe" || c.network == "unix" {
		// We don't need compression for local connections.
		tr.DisableCompression = true
	}
	c.h = &http.Client{
		Transport: tr,
		Timeout:   0, // must be 0 for long-lived SSE streams
	}
	return c, nil
}

// Health checks the server's health status.
func (c *Client) Health(ctx context.Context) error {
	rsp, err := c.get(ctx, "/health", nil, nil)
	if err != nil {
		return err
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return fmt.Errorf("server health check failed: %s", rsp.Status)
	}
	return nil
}

// LoadSessions lists the workspace's sessions. Together with [Client.LoadMessages]
// this makes the client the engine's bootstrap loader.
func (c *Client) LoadSessions(ctx context.Context, directory string) ([]proto.Session, error) {
	rsp, err := c.get(ctx, "/sessions", url.Values{"directory": []string{directory}}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list sessions: status code %d", rsp.StatusCode)
	}
	var sessions []proto.Session
	if err := json.NewDecoder(rsp.Body).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return sessions, nil
}

// LoadMessages retrieves the session's full message history with parts.
func (c *Client) LoadMessages(ctx context.Context, directory, sessionID string) ([]proto.Message, []proto.Part, error) {
	rsp, err := c.get(ctx,
		fmt.Sprintf("/sessions/%s/messages", url.PathEscape(sessionID)),
		url.Values{"directory": []string{directory}}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("failed to list messages: status code %d", rsp.StatusCode)
	}
	var history struct {
		Messages []proto.Message `json:"messages"`
		Parts    []proto.Part    `json:"parts"`
	}
	if err := json.NewDecoder(rsp.Body).Decode(&history); err != nil {
		return nil, nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return history.Messages, history.Parts, nil
}

// SendMessage submits a user prompt to the session.
func (c *Client) SendMessage(ctx context.Context, directory, sessionID, text string) error {
	rsp, err := c.post(ctx,
		fmt.Sprintf("/sessions/%s/messages", url.PathEscape(sessionID)),
		url.Values{"directory": []string{directory}},
		jsonBody(map[string]string{"text": text}),
		http.Header{"Content-Type": []string{"application/json"}})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to send message: status code %d", rsp.StatusCode)
	}
	return nil
}

// Reply answers a pending permission or question request.
func (c *Client) Reply(ctx context.Context, directory, requestID, answer string) error {
	rsp, err := c.post(ctx,
		fmt.Sprintf("/requests/%s/reply", url.PathEscape(requestID)),
		url.Values{"directory": []string{directory}},
		jsonBody(map[string]string{"answer": answer}),
		http.Header{"Content-Type": []string{"application/json"}})
	if err != nil {
		return fmt.Errorf("failed to reply to request: %w", err)
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to reply to request: status code %d", rsp.StatusCode)
	}
	return nil
}

func (c *Client) dialer(ctx context.Context, network, address string) (net.Conn, error) {
	d := net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	// Use the client's addr for npipe/unix and not the address param: the
	// address param is always "localhost:port" for HTTP clients and
	// npipe/unix don't have a concept of ports.
	switch c.network {
	case "npipe":
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return dialPipeContext(ctx, c.addr)
	case "unix":
		return d.DialContext(ctx, "unix", c.addr)
	default:
		return d.DialContext(ctx, network, address)
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, headers http.Header) (*http.Response, error) {
	return c.sendReq(ctx, http.MethodGet, path, query, nil, headers)
}

func (c *Client) post(ctx context.Context, path string, query url.Values, body io.Reader, headers http.Header) (*http.Response, error) {
	return c.sendReq(ctx, http.MethodPost, path, query, body, headers)
}

func (c *Client) sendReq(ctx context.Context, method, path string, query url.Values, body io.Reader, headers http.Header) (*http.Response, error) {
	url := (&url.URL{
		Path:     stdpath.Join("/v1", path),
		RawQuery: query.Encode(),
	}).String()
	req, err := c.buildReq(ctx, method, url, body, headers)
	if err != nil {
		return nil, err
	}
	return c.h.Do(req)
}

func (c *Client) buildReq(ctx context.Context, method, url string, body io.Reader, headers http.Header) (*http.Request, error) {
	r, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	for k, v := range headers {
		r.Header[http.CanonicalHeaderKey(k)] = v
	}

	r.URL.Scheme = "http" // always http, local connections don't use TLS
	r.URL.Host = c.addr
	if c.network == "npipe" || c.network == "unix" {
		// We use a dummy host for non-tcp connections.
		r.Host = DummyHost
	}

	if body != nil && r.Header.Get("Content-Type") == "" {
		r.Header.Set("Content-Type", "application/json")
	}

	return r, nil
}

func jsonBody(v any) *bytes.Buffer {
	b := new(bytes.Buffer)
	m, _ := json.Marshal(v)
	b.Write(m)
	return b
}
