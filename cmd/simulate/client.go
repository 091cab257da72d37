package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hackgods/opd-token-allocation/internal/api"
)

type apiClient struct {
	baseURL string
	http    *http.Client
}

// do sends body as JSON when non-nil and decodes the reply into out when the
// status is 2xx. It returns the status code even when decoding fails.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) (int, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return resp.StatusCode, latency, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, latency, nil
}

func (c *apiClient) doctors(ctx context.Context) ([]api.DoctorResponse, error) {
	var out []api.DoctorResponse
	status, _, err := c.do(ctx, http.MethodGet, "/doctors", nil, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list doctors: status %d", status)
	}
	return out, nil
}

func (c *apiClient) schedule(ctx context.Context, doctorID, date string) (*api.ScheduleResponse, error) {
	var out api.ScheduleResponse
	status, _, err := c.do(ctx, http.MethodGet, "/doctors/"+doctorID+"/schedule?date="+date, nil, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("schedule %s: status %d", doctorID, status)
	}
	return &out, nil
}
