package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/775kkk/logic-signal-protector-sub000/internal/catalog"
	"github.com/775kkk/logic-signal-protector-sub000/internal/router"
	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
)

type fakeHandler struct {
	mu   sync.Mutex
	envs []router.Envelope
	err  error
}

func (h *fakeHandler) Route(ctx context.Context, env router.Envelope) (router.Response, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.envs = append(h.envs, env)
	if h.err != nil {
		return router.Response{}, h.err
	}
	if env.Channel == "" || env.ExternalUserID == "" {
		return router.Response{}, router.ErrMissingActor
	}
	return router.Response{
		Blocks: []router.Block{
			router.ErrorBlock(router.CodeUnknownCommand, "Unknown command.", "Send /help."),
		},
		CorrelationID: env.CorrelationID,
		SessionID:     "s1",
	}, nil
}

type fakeLister []catalog.Definition

func (l fakeLister) PublicCommands(ctx context.Context) []catalog.Definition { return l }

func newTestEngine(t *testing.T, h Handler, lister CommandLister) *gin.Engine {
	t.Helper()
	engine, err := NewEngine(EngineOpts{
		Handler:       h,
		Commands:      lister,
		CorrelationID: func() string { return "corr-1" },
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func do(t *testing.T, engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestNewEngine_RequiresHandler(t *testing.T) {
	_, err := NewEngine(EngineOpts{})
	if err == nil || !strings.Contains(err.Error(), "handler is required") {
		t.Fatalf("err = %v, want handler is required", err)
	}
}

func TestHealthz(t *testing.T) {
	rec := do(t, newTestEngine(t, &fakeHandler{}, nil), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestEnvelope_ErrorBlocksAreOK(t *testing.T) {
	h := &fakeHandler{}
	rec := do(t, newTestEngine(t, h, nil), http.MethodPost, "/api/v1/envelopes",
		`{"channel":"web","externalUserId":"u1","chatId":"c1","text":"/bogus"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp router.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ErrorCode() != router.CodeUnknownCommand {
		t.Errorf("error code = %q", resp.ErrorCode())
	}
	if resp.CorrelationID != "corr-1" || resp.SessionID != "s1" {
		t.Errorf("correlation/session = %q/%q", resp.CorrelationID, resp.SessionID)
	}

	want := []router.Envelope{{Channel: "web", ExternalUserID: "u1", ChatID: "c1", Text: "/bogus", CorrelationID: "corr-1"}}
	if diff := cmp.Diff(want, h.envs); diff != "" {
		t.Errorf("envelopes (-want +got):\n%s", diff)
	}
}

func TestEnvelope_KeepsCallerCorrelationID(t *testing.T) {
	h := &fakeHandler{}
	do(t, newTestEngine(t, h, nil), http.MethodPost, "/api/v1/envelopes",
		`{"channel":"web","externalUserId":"u1","callbackData":"h:s1:1","correlationId":"abc"}`)
	if len(h.envs) != 1 || h.envs[0].CorrelationID != "abc" || h.envs[0].CallbackData != "h:s1:1" {
		t.Errorf("envelopes = %+v", h.envs)
	}
}

func TestEnvelope_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"not json", `{"channel":`, "invalid JSON"},
		{"wrong type", `{"channel":"web","externalUserId":42}`, "invalid envelope"},
		{"unknown field", `{"channel":"web","externalUserId":"u1","password":"x"}`, "invalid envelope"},
		{"not an object", `["web"]`, "invalid envelope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &fakeHandler{}
			rec := do(t, newTestEngine(t, h, nil), http.MethodPost, "/api/v1/envelopes", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body = %s, want %q", rec.Body.String(), tt.want)
			}
			if len(h.envs) != 0 {
				t.Errorf("handler called for invalid input")
			}
		})
	}
}

func TestEnvelope_MissingActorIs500(t *testing.T) {
	rec := do(t, newTestEngine(t, &fakeHandler{}, nil), http.MethodPost, "/api/v1/envelopes", `{"text":"/help"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "externalUserId are required") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestEnvelope_RouteErrorIs500(t *testing.T) {
	h := &fakeHandler{err: errors.New("boom")}
	rec := do(t, newTestEngine(t, h, nil), http.MethodPost, "/api/v1/envelopes", `{"channel":"web","externalUserId":"u1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Errorf("internal error leaked: %s", rec.Body.String())
	}
}

func TestCommands(t *testing.T) {
	lister := fakeLister{
		{Code: catalog.CodeHelp, Keyword: "help", Usage: "/help", Description: "List available commands"},
	}
	rec := do(t, newTestEngine(t, &fakeHandler{}, lister), http.MethodGet, "/api/v1/commands", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		Commands []CommandInfo `json:"commands"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []CommandInfo{{Keyword: "help", Usage: "/help", Description: "List available commands"}}
	if diff := cmp.Diff(want, got.Commands); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
}

func TestCommands_NoLister(t *testing.T) {
	rec := do(t, newTestEngine(t, &fakeHandler{}, nil), http.MethodGet, "/api/v1/commands", "")
	if rec.Body.String() != `{"commands":[]}` {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestStart_RequiresHandler(t *testing.T) {
	if err := Start(context.Background(), StartOpts{}); err == nil {
		t.Fatal("expected error for missing handler")
	}
}

// Compile-time check that the router can back the webhook.
var (
	_ Handler       = (*router.Router)(nil)
	_ CommandLister = (*router.Router)(nil)
)
