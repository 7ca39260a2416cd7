package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	httputil "agriconnect/pkg/http"
	"agriconnect/pkg/model"
)

const healthPollInterval = 500 * time.Millisecond

// APIError is a non-2xx response from the appointments API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// APIClient calls the appointments HTTP API on behalf of one user.
type APIClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// RequestAppointment books the caller (a farmer) with expertID and returns
// the new appointment id. A non-empty idempotencyKey makes retries safe.
func (c *APIClient) RequestAppointment(ctx context.Context, expertID, idempotencyKey string) (string, error) {
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	var msg httputil.MessageResponse
	if err := c.do(ctx, http.MethodPost, "/appointments", model.AppointmentRequest{ExpertID: expertID}, headers, &msg); err != nil {
		return "", err
	}
	return msg.AppointmentID, nil
}

// Respond accepts or declines a pending appointment as its expert.
func (c *APIClient) Respond(ctx context.Context, appointmentID string, decision model.AppointmentStatus) error {
	var action string
	switch decision {
	case model.StatusAccepted:
		action = "accept"
	case model.StatusDeclined:
		action = "decline"
	default:
		return fmt.Errorf("invalid decision %q", decision)
	}
	return c.do(ctx, http.MethodPost, "/appointments/"+appointmentID+"/"+action, nil, nil, nil)
}

func (c *APIClient) ListAppointments(ctx context.Context, role model.Role) ([]*model.AppointmentView, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	var views []*model.AppointmentView
	if err := c.do(ctx, http.MethodGet, "/appointments/"+string(role), nil, nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// FindAppointment looks up one of the caller's appointments by id.
func (c *APIClient) FindAppointment(ctx context.Context, role model.Role, appointmentID string) (*model.AppointmentView, error) {
	views, err := c.ListAppointments(ctx, role)
	if err != nil {
		return nil, err
	}
	for _, v := range views {
		if v.ID == appointmentID {
			return v, nil
		}
	}
	return nil, &APIError{StatusCode: http.StatusNotFound, Message: "appointment not found"}
}

// WaitForHealthy polls /health until it answers 200 or maxWait elapses.
func (c *APIClient) WaitForHealthy(ctx context.Context, maxWait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := c.HTTPClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("service did not become healthy within %v", maxWait)
		case <-ticker.C:
		}
	}
}

func (c *APIClient) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp httputil.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil {
			apiErr.Code = errResp.Code
			apiErr.Message = errResp.Error
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
