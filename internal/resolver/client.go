// Package resolver turns remote catalog locators into playable stream URLs
// through an external resolution service.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrResolveFailed = errors.New("resolution failed")
	ErrNoStream      = errors.New("no stream in result")
)

// Task states reported by the service.
const (
	statusRunning = 0
	statusSuccess = 1
	statusFailed  = 2
)

// Client talks to the resolution service: a locator is submitted as a task,
// then polled until the service reports a stream reference.
type Client struct {
	apiURL    string
	apiKey    string
	outputDir string // shared volume the service may write into
	http      *http.Client

	PollInterval time.Duration
	Timeout      time.Duration
}

// NewClient creates a resolver client.
func NewClient(apiURL, apiKey, outputDir string) *Client {
	return &Client{
		apiURL:       strings.TrimRight(apiURL, "/"),
		apiKey:       apiKey,
		outputDir:    outputDir,
		http:         &http.Client{Timeout: 30 * time.Second},
		PollInterval: time.Second,
		Timeout:      45 * time.Second,
	}
}

type submitResp struct {
	Data struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
	Code  int    `json:"code"`
	Error string `json:"error"`
}

type queryResp struct {
	Data []taskResult `json:"data"`
	Code int          `json:"code"`
}

type taskResult struct {
	TaskID string `json:"task_id"`
	Status int    `json:"status"`
	Result string `json:"result"` // JSON list of resultItem
	Error  string `json:"error"`
}

type resultItem struct {
	File   string `json:"file"`
	Status int    `json:"status"`
}

// WaitForHealthy blocks until the service answers its health check.
func (c *Client) WaitForHealthy(ctx context.Context, retry time.Duration) error {
	log.Println("Waiting for resolver to be ready...")
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				log.Println("Resolver is healthy")
				return nil
			}
		}

		log.Printf("Resolver not ready, retrying in %s...", retry)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}

// Resolve submits locator and waits for a playable reference, bounded by
// c.Timeout.
func (c *Client) Resolve(ctx context.Context, locator string) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	taskID, err := c.Submit(ctx, locator)
	if err != nil {
		return "", err
	}
	ref, err := c.PollUntilDone(ctx, taskID, c.PollInterval)
	if err != nil {
		return "", err
	}
	log.Printf("Resolved %s -> %s", locator, ref)
	return ref, nil
}

// Submit starts a resolution task and returns its id.
func (c *Client) Submit(ctx context.Context, locator string) (string, error) {
	body, err := json.Marshal(map[string]string{"locator": locator})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var result submitResp
	if err := c.post(ctx, "/resolve", body, &result); err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	if result.Code != http.StatusOK {
		return "", fmt.Errorf("%w: API error (code %d): %s", ErrResolveFailed, result.Code, result.Error)
	}
	if result.Data.TaskID == "" {
		return "", fmt.Errorf("%w: empty task id", ErrResolveFailed)
	}
	return result.Data.TaskID, nil
}

// PollUntilDone polls the task until it succeeds, fails or ctx ends.
// Transport errors are retried.
func (c *Client) PollUntilDone(ctx context.Context, taskID string, interval time.Duration) (string, error) {
	reqBody, _ := json.Marshal(map[string][]string{
		"task_id_list": {taskID},
	})

	for {
		var result queryResp
		err := c.post(ctx, "/query_result", reqBody, &result)
		switch {
		case ctx.Err() != nil:
			return "", ctx.Err()
		case err != nil:
			log.Printf("Poll error: %v, retrying...", err)
		case len(result.Data) > 0:
			task := result.Data[0]
			switch task.Status {
			case statusSuccess:
				return c.extractStream(task.Result)
			case statusFailed:
				reason := task.Error
				if reason == "" {
					reason = "task " + taskID
				}
				return "", fmt.Errorf("%w: %s", ErrResolveFailed, reason)
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// extractStream returns a path or URL FFmpeg can open. References of the
// form "/v1/audio?path=rel" are served from the shared volume when the file
// exists there.
func (c *Client) extractStream(resultJSON string) (string, error) {
	var items []resultItem
	if err := json.Unmarshal([]byte(resultJSON), &items); err != nil {
		return "", fmt.Errorf("parse result items: %w", err)
	}
	if len(items) == 0 || items[0].File == "" {
		return "", ErrNoStream
	}
	ref := items[0].File

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	if c.outputDir != "" {
		if u, err := url.Parse(ref); err == nil {
			if rel := u.Query().Get("path"); rel != "" {
				local := filepath.Join(c.outputDir, filepath.Clean("/"+rel))
				if _, err := os.Stat(local); err == nil {
					return local, nil
				}
			}
		}
	}
	return c.apiURL + "/" + strings.TrimLeft(ref, "/"), nil
}
