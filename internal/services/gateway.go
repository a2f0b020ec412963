package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agenthub/backend/internal/config"
	"github.com/rs/zerolog"

	"github.com/agenthub/backend/pkg/logger"
)

// GatewayError kinds.
const (
	GatewayErrAuth        = "auth"        // credentials rejected by the gateway
	GatewayErrStatus      = "status"      // non-2xx response
	GatewayErrUnavailable = "unavailable" // transport failure or timeout
)

// GatewayError is the structured failure contract for gateway calls. The
// scheduler treats all kinds as a plain execution failure; the kind exists
// for logging and for callers that react to auth failures specifically.
type GatewayError struct {
	Kind   string
	Status int
	Detail string
}

func (e *GatewayError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("gateway %s (status %d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("gateway %s: %s", e.Kind, e.Detail)
}

// GatewayClient delivers job payloads to the configured agent gateway.
type GatewayClient interface {
	// SendMessage posts a message payload and returns the gateway's
	// response body.
	SendMessage(ctx context.Context, payload *MessagePayload) (string, error)
	// RunCommand posts a command payload and returns the gateway's
	// response body.
	RunCommand(ctx context.Context, payload *CommandPayload) (string, error)
	// Stop asks the gateway to abort an in-flight agent run. Advisory:
	// failures are ignored by callers.
	Stop(ctx context.Context, target string) error
}

// HTTPGatewayClient implements GatewayClient over the gateway's JSON HTTP
// contract with bearer auth and a bounded per-call timeout.
type HTTPGatewayClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	log     zerolog.Logger
}

func NewGatewayClient(cfg *config.GatewayConfig) *HTTPGatewayClient {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	return &HTTPGatewayClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		log:     logger.With("gateway"),
	}
}

func (g *HTTPGatewayClient) SendMessage(ctx context.Context, payload *MessagePayload) (string, error) {
	return g.post(ctx, "/agent/message", payload)
}

func (g *HTTPGatewayClient) RunCommand(ctx context.Context, payload *CommandPayload) (string, error) {
	return g.post(ctx, "/agent/command", payload)
}

func (g *HTTPGatewayClient) Stop(ctx context.Context, target string) error {
	_, err := g.post(ctx, "/agent/stop", map[string]string{"target": target})
	return err
}

func (g *HTTPGatewayClient) post(ctx context.Context, endpoint string, payload interface{}) (string, error) {
	if g.baseURL == "" {
		return "", &GatewayError{Kind: GatewayErrUnavailable, Detail: "gateway URL not configured"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Warn().Err(err).Str("endpoint", endpoint).Msg("gateway request failed")
		return "", &GatewayError{Kind: GatewayErrUnavailable, Detail: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := GatewayErrStatus
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = GatewayErrAuth
		} else if looksLikeAuthFailure(string(respBody)) {
			// Compatibility shim for gateways that report auth failures
			// in a 200-family-adjacent error body instead of a status
			// code. Status-code detection above is authoritative.
			kind = GatewayErrAuth
		}
		g.log.Warn().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("gateway returned error status")
		return "", &GatewayError{Kind: kind, Status: resp.StatusCode, Detail: string(respBody)}
	}

	return string(respBody), nil
}

func looksLikeAuthFailure(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "auth failed")
}
