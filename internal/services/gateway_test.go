package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agenthub/backend/internal/config"
)

func gatewayFor(url string) *HTTPGatewayClient {
	return NewGatewayClient(&config.GatewayConfig{
		BaseURL:    url,
		APIKey:     "test-key",
		TimeoutSec: 2,
	})
}

func TestGateway_SendMessage(t *testing.T) {
	var gotAuth, gotPath string
	var gotPayload MessagePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	out, err := gatewayFor(srv.URL).SendMessage(context.Background(), &MessagePayload{Message: "hello"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if out != `{"ok":true}` {
		t.Errorf("response body = %q", out)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/agent/message" {
		t.Errorf("path = %q", gotPath)
	}
	if gotPayload.Message != "hello" {
		t.Errorf("payload message = %q", gotPayload.Message)
	}
}

func TestGateway_RunCommandPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	if _, err := gatewayFor(srv.URL).RunCommand(context.Background(), &CommandPayload{Command: "status"}); err != nil {
		t.Fatalf("RunCommand failed: %v", err)
	}
	if gotPath != "/agent/command" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestGateway_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := gatewayFor(srv.URL).SendMessage(context.Background(), &MessagePayload{Message: "x"})
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gwErr.Kind != GatewayErrStatus || gwErr.Status != 500 {
		t.Errorf("kind=%q status=%d, expected status/500", gwErr.Kind, gwErr.Status)
	}
}

func TestGateway_AuthStatusCode(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := gatewayFor(srv.URL).SendMessage(context.Background(), &MessagePayload{Message: "x"})
		srv.Close()

		var gwErr *GatewayError
		if !errors.As(err, &gwErr) {
			t.Fatalf("status %d: expected GatewayError, got %v", status, err)
		}
		if gwErr.Kind != GatewayErrAuth {
			t.Errorf("status %d: kind = %q, expected auth", status, gwErr.Kind)
		}
	}
}

func TestGateway_AuthDetectedFromBody(t *testing.T) {
	// Some gateways report auth failures with a generic status and the
	// reason only in the body.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid API key"}`))
	}))
	defer srv.Close()

	_, err := gatewayFor(srv.URL).SendMessage(context.Background(), &MessagePayload{Message: "x"})
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gwErr.Kind != GatewayErrAuth {
		t.Errorf("kind = %q, expected auth from body match", gwErr.Kind)
	}
}

func TestGateway_Unavailable(t *testing.T) {
	// Nothing listens here.
	_, err := gatewayFor("http://127.0.0.1:1").SendMessage(context.Background(), &MessagePayload{Message: "x"})
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gwErr.Kind != GatewayErrUnavailable {
		t.Errorf("kind = %q, expected unavailable", gwErr.Kind)
	}
}

func TestGateway_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	g := NewGatewayClient(&config.GatewayConfig{BaseURL: srv.URL, TimeoutSec: 1})
	g.timeout = 50 * time.Millisecond
	g.client.Timeout = 50 * time.Millisecond

	_, err := g.SendMessage(context.Background(), &MessagePayload{Message: "x"})
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gwErr.Kind != GatewayErrUnavailable {
		t.Errorf("kind = %q, expected unavailable on timeout", gwErr.Kind)
	}
}

func TestGateway_NotConfigured(t *testing.T) {
	_, err := gatewayFor("").SendMessage(context.Background(), &MessagePayload{Message: "x"})
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gwErr.Kind != GatewayErrUnavailable {
		t.Errorf("kind = %q, expected unavailable", gwErr.Kind)
	}
}

func TestGateway_StopPostsTarget(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	if err := gatewayFor(srv.URL).Stop(context.Background(), "agent-3"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if gotBody["target"] != "agent-3" {
		t.Errorf("stop body = %v", gotBody)
	}
}
