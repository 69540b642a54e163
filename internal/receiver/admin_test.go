package receiver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/framegate/internal/protocol"
	"github.com/danmuck/framegate/internal/protocol/frame"
	"github.com/danmuck/framegate/internal/testutil/testlog"
)

func TestAdminRoutes(t *testing.T) {
	testlog.Start(t)
	svc := NewServiceWithConfig(DefaultServiceConfig())
	now := time.Now()
	svc.record(FlowResult{
		ConnID:    "c1",
		ChannelID: 4,
		Header:    frame.Header{Version: 1, MessageType: 1, BodyLen: 5},
		BodyLen:   5,
		Text:      "hello",
		Reached:   StateDecoded,
		History:   []FlowState{StateAwaitingHeader, StateAwaitingBody, StateDecoded, StateClosed},
		Started:   now,
		Finished:  now,
	})
	svc.record(FlowResult{
		ConnID:  "c1",
		BodyLen: 3,
		Err:     &protocol.DecodeError{Offset: 0, Len: 1},
		Reached: StateDecoded,
	})
	router := svc.HTTPRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("health: code=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code=%d", rec.Code)
	}
	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Flows != 2 || st.Decoded != 1 || st.DecodeFailed != 1 || len(st.Recent) != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.Recent[0].Text != "hello" || st.Recent[0].Outcome != "ok" || st.Recent[1].Outcome != "decode_error" {
		t.Fatalf("unexpected recent flows: %+v", st.Recent)
	}
	if st.Recent[1].Error == "" || st.Recent[0].Reached != string(StateDecoded) {
		t.Fatalf("unexpected flow views: %+v", st.Recent)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "framegate_receiver_flows_total") {
		t.Fatalf("metrics missing flow counter: code=%d", rec.Code)
	}
}

func TestAdminCORSAllowsConfiguredOrigin(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.AdminCORSOrigins = []string{"http://localhost:3000"}
	router := NewServiceWithConfig(cfg).HTTPRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected disallowed origin to be rejected, got %d", rec.Code)
	}
}

func TestServiceConfigValidate(t *testing.T) {
	testlog.Start(t)
	if err := DefaultServiceConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := DefaultServiceConfig()
	cfg.ListenAddr = " "
	cfg.QueueDepth = -1
	cfg.Limits.MaxBodyBytes = 0
	err := cfg.Validate()
	for _, want := range []error{ErrListenAddrRequired, ErrInvalidQueueDepth, ErrInvalidBodyLimit} {
		if !errors.Is(err, want) {
			t.Fatalf("expected %v in %v", want, err)
		}
	}
}

func TestAdminTokenGuardsStatusAndMetrics(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.AdminToken = "s3cret"
	router := NewServiceWithConfig(cfg).HTTPRouter()

	for _, path := range []string{"/status", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token: code=%d", path, rec.Code)
		}

		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer s3cret")
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s with token: code=%d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health must stay open: code=%d", rec.Code)
	}
}
