package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vidora/stars-service/internal/infrastructure/config"
	"github.com/vidora/stars-service/pkg/logger"
)

// CDNClient purges cached profile documents after a balance change.
// Purges are best effort; callers log and move on when one fails.
type CDNClient struct {
	purgeURL   string
	token      string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewCDNClient creates a purge client. An empty purge URL disables it.
func NewCDNClient(cfg config.CDNConfig, logger *logger.Logger) *CDNClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CDNClient{
		purgeURL:   cfg.PurgeURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Enabled reports whether purges will actually be issued
func (c *CDNClient) Enabled() bool {
	return c.purgeURL != ""
}

// PurgePaths asks the CDN to drop the given cached paths
func (c *CDNClient) PurgePaths(ctx context.Context, paths ...string) error {
	if !c.Enabled() || len(paths) == 0 {
		return nil
	}

	body, err := json.Marshal(map[string]interface{}{"paths": paths})
	if err != nil {
		return fmt.Errorf("failed to marshal purge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.purgeURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build purge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cdn purge request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("cdn purge returned status %d", resp.StatusCode)
	}

	c.logger.Debug("CDN purge issued", "paths", paths)
	return nil
}
