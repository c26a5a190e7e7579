package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// SnapshotClient 拉取订单簿快照；HTTPClient 可注入 httptest。
type SnapshotClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// FetchDepth 请求 symbol 的深度快照，limit 为档位上限。
func (c *SnapshotClient) FetchDepth(ctx context.Context, symbol string, limit int) (DepthSnapshot, error) {
	var snap DepthSnapshot
	if c == nil || c.HTTPClient == nil {
		return snap, fmt.Errorf("http client not set")
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("limit", strconv.Itoa(limit))
	endpoint := c.BaseURL + "/fapi/v1/depth?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return snap, fmt.Errorf("build snapshot request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return snap, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return snap, fmt.Errorf("fetch snapshot status %d: %w", resp.StatusCode, ErrAuthRejected)
	}
	if resp.StatusCode >= 300 {
		return snap, fmt.Errorf("fetch snapshot status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
