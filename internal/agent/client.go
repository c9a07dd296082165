package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/fentz26/beacon/internal/models"
	"github.com/fentz26/beacon/internal/protocol"
)

// maxResponseBytes caps a task poll answer.
const maxResponseBytes = 8 << 20

var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

// Client speaks the dispatch protocol to one server. Keep-alives are off so
// every exchange uses a fresh connection.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for baseURL. When proxyAddr is set every
// connection is tunnelled through that proxy with HTTP CONNECT.
func NewClient(baseURL, proxyAddr string, timeout time.Duration) *Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	transport := &http.Transport{
		DisableKeepAlives: true,
		DialContext:       dialer.DialContext,
	}
	if proxyAddr != "" {
		transport.DialContext = connectDialer(dialer, proxyAddr)
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Poll asks the server for the next task.
func (c *Client) Poll(ctx context.Context) (protocol.TaskResponse, error) {
	body, err := c.do(ctx, protocol.StatusTask, nil)
	if err != nil {
		return protocol.TaskResponse{}, err
	}
	return protocol.DecodeTaskResponse(body)
}

// SendResult reports the outcome of the in-flight task.
func (c *Client) SendResult(ctx context.Context, result models.Result) error {
	payload, err := protocol.EncodeResult(result)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, protocol.StatusResult, payload)
	return err
}

func (c *Client) do(ctx context.Context, status string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(protocol.HeaderStatus, status)
	if payload != nil {
		req.Header.Set("Content-Type", protocol.ContentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}
	return data, nil
}
