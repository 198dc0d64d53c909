package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Zelfconnect/slowcarb/internal/stripe"
)

var testOrigins = []string{"https://slowcarb.app", "https://preview.slowcarb.app"}

// stubProcessor serves the processor's checkout-session lookup API.
func stubProcessor(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/checkout/sessions/") {
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/v1/checkout/sessions/")
		w.Header().Set("Content-Type", "application/json")
		switch id {
		case "cs_ok":
			io.WriteString(w, `{"id":"cs_ok","object":"checkout.session","customer_details":{"email":"x@y.com"}}`)
		case "cs_top":
			io.WriteString(w, `{"id":"cs_top","object":"checkout.session","customer_email":"top@y.com","customer_details":{"email":"other@y.com"}}`)
		case "cs_noemail":
			io.WriteString(w, `{"id":"cs_noemail","object":"checkout.session"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"No such checkout session"}}`)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func setupSessionHandler(t *testing.T) *SessionHandler {
	t.Helper()
	upstream := stubProcessor(t)
	client := stripe.NewClient(stripe.Config{APIKey: "sk_test_123", BackendURL: upstream.URL})
	return NewSessionHandler(client, testOrigins, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func confirmRequest(body, origin string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/checkout-session", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestConfirmReturnsEmail(t *testing.T) {
	h := setupSessionHandler(t)

	rec := httptest.NewRecorder()
	h.Confirm(rec, confirmRequest(`{"session_id":"cs_ok"}`, testOrigins[0]))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["email"] != "x@y.com" {
		t.Errorf("email = %q, want x@y.com", body["email"])
	}
}

func TestConfirmPrefersTopLevelEmail(t *testing.T) {
	h := setupSessionHandler(t)

	rec := httptest.NewRecorder()
	h.Confirm(rec, confirmRequest(`{"session_id":"cs_top"}`, testOrigins[0]))

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["email"] != "top@y.com" {
		t.Errorf("email = %q, want top@y.com", body["email"])
	}
}

func TestConfirmMissingSessionID(t *testing.T) {
	h := setupSessionHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"empty string", `{"session_id":""}`},
		{"wrong type", `{"session_id":123}`},
		{"malformed", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Confirm(rec, confirmRequest(tt.body, testOrigins[0]))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			var body map[string]string
			json.Unmarshal(rec.Body.Bytes(), &body)
			if body["error"] != "Missing session_id" {
				t.Errorf("error = %q, want %q", body["error"], "Missing session_id")
			}
		})
	}
}

func TestConfirmUnknownSession(t *testing.T) {
	h := setupSessionHandler(t)

	rec := httptest.NewRecorder()
	h.Confirm(rec, confirmRequest(`{"session_id":"cs_missing"}`, testOrigins[0]))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "Invalid session" {
		t.Errorf("error = %q, want %q (no upstream detail leaked)", body["error"], "Invalid session")
	}
}

func TestConfirmSessionWithoutEmail(t *testing.T) {
	h := setupSessionHandler(t)

	rec := httptest.NewRecorder()
	h.Confirm(rec, confirmRequest(`{"session_id":"cs_noemail"}`, testOrigins[0]))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "No email found in session" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestPreflightCORSHeaders(t *testing.T) {
	h := setupSessionHandler(t)

	tests := []struct {
		name        string
		origin      string
		wantAllowed string
	}{
		{"allow-listed first", testOrigins[0], testOrigins[0]},
		{"allow-listed second", testOrigins[1], testOrigins[1]},
		{"unknown origin gets first allow-listed", "https://evil.example.com", testOrigins[0]},
		{"no origin gets first allow-listed", "", testOrigins[0]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/checkout-session", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			h.Preflight(rec, req)

			if rec.Code != http.StatusNoContent {
				t.Errorf("status = %d, want 204", rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowed {
				t.Errorf("allow-origin = %q, want %q", got, tt.wantAllowed)
			}
			if got := rec.Header().Get("Vary"); got != "Origin" {
				t.Errorf("vary = %q, want Origin", got)
			}
			if rec.Body.Len() != 0 {
				t.Error("preflight must have no body")
			}
		})
	}
}

func TestCORSEmptyAllowListDeniesAll(t *testing.T) {
	upstream := stubProcessor(t)
	client := stripe.NewClient(stripe.Config{APIKey: "sk_test_123", BackendURL: upstream.URL})
	h := NewSessionHandler(client, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodOptions, "/api/checkout-session", nil)
	req.Header.Set("Origin", "https://slowcarb.app")
	rec := httptest.NewRecorder()
	h.Preflight(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("allow-origin = %q, want no header with an empty allow-list", got)
	}
	if got := rec.Header().Get("Vary"); got != "Origin" {
		t.Errorf("vary = %q, want Origin", got)
	}
}

func TestConfirmSetsCORSOnResponse(t *testing.T) {
	h := setupSessionHandler(t)

	rec := httptest.NewRecorder()
	h.Confirm(rec, confirmRequest(`{"session_id":"cs_ok"}`, "https://evil.example.com"))

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != testOrigins[0] {
		t.Errorf("allow-origin = %q, want first allow-listed origin", got)
	}
}
