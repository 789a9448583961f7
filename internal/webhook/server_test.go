package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/zulandar/signalbox/internal/lark"
)

type recordingQueue struct {
	mu   sync.Mutex
	envs []*lark.Envelope
	full bool
}

func (q *recordingQueue) Enqueue(env *lark.Envelope) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.envs = append(q.envs, env)
	return true
}

func newTestRouter(t *testing.T, q *recordingQueue, rps float64, burst int) *gin.Engine {
	t.Helper()
	r, err := NewRouter(Opts{Events: q, RateRPS: rps, RateBurst: burst, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNewRouter_RequiresQueue(t *testing.T) {
	if _, err := NewRouter(Opts{}); err == nil {
		t.Fatal("expected error without event queue")
	}
}

func TestLarkWebhook_URLVerification(t *testing.T) {
	q := &recordingQueue{}
	r := newTestRouter(t, q, 0, 0)

	w := do(r, http.MethodPost, "/lark/webhook", `{"type":"url_verification","challenge":"abc123"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["challenge"] != "abc123" {
		t.Errorf("challenge = %q, want abc123", resp["challenge"])
	}
	if len(q.envs) != 0 {
		t.Error("verification must not be enqueued")
	}
}

func TestLarkWebhook_EnqueuesAndAcks(t *testing.T) {
	q := &recordingQueue{}
	r := newTestRouter(t, q, 0, 0)

	body := `{"header":{"event_id":"e1","event_type":"im.message.receive_v1"},"event":{"message":{"chat_id":"oc_1","content":"{\"text\":\"P0\"}"}}}`
	w := do(r, http.MethodPost, "/lark/webhook", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"code":0,"msg":"success"}` {
		t.Errorf("body = %s", got)
	}
	if len(q.envs) != 1 || q.envs[0].Header.EventID != "e1" {
		t.Fatalf("enqueued = %+v", q.envs)
	}
}

func TestLarkWebhook_AcksWhenQueueFull(t *testing.T) {
	q := &recordingQueue{full: true}
	r := newTestRouter(t, q, 0, 0)
	w := do(r, http.MethodPost, "/lark/webhook", `{"header":{"event_id":"e1"}}`)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestLarkWebhook_BadPayload(t *testing.T) {
	q := &recordingQueue{}
	r := newTestRouter(t, q, 0, 0)
	w := do(r, http.MethodPost, "/lark/webhook", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(q.envs) != 0 {
		t.Error("bad payload must not be enqueued")
	}
}

func TestTwilioVoice_TwiML(t *testing.T) {
	r := newTestRouter(t, &recordingQueue{}, 0, 0)
	w := do(r, http.MethodPost, "/twilio/voice?incident_chat_id=oc_1&notify_chat_id=oc_2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{"<Response>", "<Say", "incident has been declared"} {
		if !strings.Contains(body, want) {
			t.Errorf("TwiML missing %q:\n%s", want, body)
		}
	}
}

func TestHealthzAndRequestID(t *testing.T) {
	r := newTestRouter(t, &recordingQueue{}, 0, 0)
	w := do(r, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Error("missing X-Request-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "rid-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "rid-1" {
		t.Errorf("X-Request-ID = %q, want propagated rid-1", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(t, &recordingQueue{}, 0, 0)
	do(r, http.MethodGet, "/healthz", "")
	w := do(r, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "signalbox_http_requests_total") {
		t.Error("metrics output missing request counter")
	}
}

func TestRateLimit(t *testing.T) {
	r := newTestRouter(t, &recordingQueue{}, 0.001, 2)
	for i := 0; i < 2; i++ {
		if w := do(r, http.MethodPost, "/lark/webhook", `{}`); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, w.Code)
		}
	}
	w := do(r, http.MethodPost, "/lark/webhook", `{}`)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	if w := do(r, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("healthz should not be limited, got %d", w.Code)
	}
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Recovery(zerolog.Nop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := do(r, http.MethodGet, "/boom", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
