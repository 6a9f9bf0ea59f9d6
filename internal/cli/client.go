package cli

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	defaultDaemonURL = "http://127.0.0.1:37911"
	httpTimeout      = 10 * time.Second
)

// daemonClient talks to a running keepsake daemon.
type daemonClient struct {
	http    *http.Client
	baseURL string
}

// newDaemonClient respects KEEPSAKE_URL, falling back to the configured
// bind address and finally the default loopback port.
func newDaemonClient() *daemonClient {
	url := os.Getenv("KEEPSAKE_URL")
	if url == "" && cfg.Server.Port != 0 {
		url = "http://" + cfg.ListenAddr()
	}
	if url == "" {
		url = defaultDaemonURL
	}
	return &daemonClient{
		http:    &http.Client{Timeout: httpTimeout},
		baseURL: url,
	}
}

func (c *daemonClient) post(path string, body []byte) ([]byte, error) {
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, data)
	}
	return data, nil
}

func (c *daemonClient) get(path string) ([]byte, error) {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, data)
	}
	return data, nil
}
