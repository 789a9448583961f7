package lark

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, srv *httptest.Server, probes []MeetingProbe) *Client {
	t.Helper()
	c, err := NewClient(ClientOpts{
		AppID:        "app",
		AppSecret:    "secret",
		BaseURL:      srv.URL + "/open-apis",
		Probes:       probes,
		FallbackLink: "https://vc.example.com/j/fallback",
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

// writeJSON replies with a JSON content type; the SDK refuses to decode
// typed responses without one.
func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	io.WriteString(w, body)
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(ClientOpts{BaseURL: "http://x", FallbackLink: "x"}); err == nil {
		t.Error("expected error for missing app credentials")
	}
	if _, err := NewClient(ClientOpts{AppID: "a", AppSecret: "s", FallbackLink: "x"}); err == nil {
		t.Error("expected error for missing base url")
	}
	if _, err := NewClient(ClientOpts{AppID: "a", AppSecret: "s", BaseURL: "http://x"}); err == nil {
		t.Error("expected error for missing fallback link")
	}
}

func TestDomain(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://open-sg.larksuite.com/open-apis", "https://open-sg.larksuite.com"},
		{"https://open.larksuite.com/open-apis/", "https://open.larksuite.com"},
		{"https://open.larksuite.com", "https://open.larksuite.com"},
	}
	for _, tt := range tests {
		if got := Domain(tt.in); got != tt.want {
			t.Errorf("Domain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// --- TokenCache ---

func tokenServer(t *testing.T, calls *int32, resp string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/open-apis/auth/v3/tenant_access_token/internal" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("token request carried Authorization %q", r.Header.Get("Authorization"))
		}
		atomic.AddInt32(calls, 1)
		writeJSON(w, resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenCache_CachesUntilExpiry(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls, `{"code":0,"tenant_access_token":"t-1","expire":3600}`)
	tc := NewTokenCache(newTestClient(t, srv, nil), zerolog.Nop())

	now := time.Unix(1_700_000_000, 0)
	tc.now = func() time.Time { return now }

	if got := tc.Get(context.Background()); got != "t-1" {
		t.Fatalf("Get = %q, want t-1", got)
	}
	if got := tc.Get(context.Background()); got != "t-1" {
		t.Fatalf("second Get = %q, want t-1", got)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("fetches = %d, want 1", calls)
	}

	// Past expire - margin: refetch.
	now = now.Add(3600*time.Second - tokenSafetyMargin)
	tc.Get(context.Background())
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("fetches after expiry = %d, want 2", calls)
	}
}

func TestTokenCache_ProviderErrorReturnsEmpty(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls, `{"code":99991663,"msg":"invalid app"}`)
	tc := NewTokenCache(newTestClient(t, srv, nil), zerolog.Nop())

	if got := tc.Get(context.Background()); got != "" {
		t.Errorf("Get = %q, want empty", got)
	}
	// Not cached: a second call tries again.
	tc.Get(context.Background())
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("fetches = %d, want 2", calls)
	}
}

func TestTokenCache_TransportErrorReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newTestClient(t, srv, nil)
	srv.Close()
	tc := NewTokenCache(c, zerolog.Nop())
	if got := tc.Get(context.Background()); got != "" {
		t.Errorf("Get = %q, want empty", got)
	}
}

func TestTokenCache_ConcurrentCallersShareRefresh(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls, `{"code":0,"tenant_access_token":"t-c","expire":7200}`)
	tc := NewTokenCache(newTestClient(t, srv, nil), zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := tc.Get(context.Background()); got != "t-c" {
				t.Errorf("Get = %q, want t-c", got)
			}
		}()
	}
	wg.Wait()
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("fetches = %d, want 1", calls)
	}
}

func TestTokenCache_Invalidate(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls, `{"code":0,"tenant_access_token":"t","expire":3600}`)
	tc := NewTokenCache(newTestClient(t, srv, nil), zerolog.Nop())
	tc.Get(context.Background())
	tc.Invalidate()
	tc.Get(context.Background())
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("fetches = %d, want 2", calls)
	}
}

// --- Messages ---

func TestPostText_Payload(t *testing.T) {
	var got map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/open-apis/im/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("receive_id_type") != "chat_id" {
			t.Errorf("receive_id_type = %q", r.URL.Query().Get("receive_id_type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, `{"code":0,"msg":"ok","data":{"message_id":"om_1"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	if err := c.PostText(context.Background(), "oc_1", "tok", "héllo <b>"); err != nil {
		t.Fatalf("PostText: %v", err)
	}
	if auth != "Bearer tok" {
		t.Errorf("Authorization = %q", auth)
	}
	if got["receive_id"] != "oc_1" || got["msg_type"] != "text" {
		t.Errorf("payload = %v", got)
	}
	if got["content"] != `{"text":"héllo <b>"}` {
		t.Errorf("content = %q", got["content"])
	}
}

func TestPostCard_ErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"code":230001,"msg":"bad card"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	err := c.PostCard(context.Background(), "oc_1", "tok", ResultCard("x"))
	if err == nil || !strings.Contains(err.Error(), "bad card") {
		t.Fatalf("err = %v, want bad card", err)
	}
}

func TestPostText_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	c := newTestClient(t, srv, nil)
	if err := c.PostText(context.Background(), "oc", "tok", "x"); err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestFetchDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/open-apis/docx/v1/documents/doc1/raw_content" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		writeJSON(w, `{"code":0,"data":{"content":"runbook text"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	got, err := c.FetchDocument(context.Background(), "tok", "doc1")
	if err != nil {
		t.Fatalf("FetchDocument: %v", err)
	}
	if got != "runbook text" {
		t.Errorf("content = %q", got)
	}
}

func TestFetchDocument_PermissionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"code":1770032,"msg":"forbidden"}`)
	}))
	defer srv.Close()
	c := newTestClient(t, srv, nil)
	if _, err := c.FetchDocument(context.Background(), "tok", "doc1"); err == nil {
		t.Fatal("expected error")
	}
}

// --- Meetings ---

func TestMeetingProbes_Order(t *testing.T) {
	probes := MeetingProbes([]string{"https://a/open-apis", "https://b/open-apis"}, "topic", "ou_host")
	if len(probes) != 4 {
		t.Fatalf("len = %d, want 4", len(probes))
	}
	if probes[0].URL() != "https://a/open-apis/vc/v1/meetings" {
		t.Errorf("probes[0] = %s", probes[0].URL())
	}
	if probes[1].URL() != "https://a/open-apis/videoconference/v1/conferences" {
		t.Errorf("probes[1] = %s", probes[1].URL())
	}
	if probes[2].Domain != "https://b" {
		t.Errorf("probes[2].Domain = %s", probes[2].Domain)
	}
	if probes[0].Query["user_id_type"] != "open_id" {
		t.Errorf("query = %v", probes[0].Query)
	}
	if probes[1].Payload["conference_type"] != "common" {
		t.Errorf("conference payload = %v", probes[1].Payload)
	}
	if probes[2].Payload["host_id"] != "ou_host" {
		t.Errorf("host_id = %v", probes[2].Payload["host_id"])
	}
}

func TestCreateMeeting_FirstSuccessWins(t *testing.T) {
	var hits []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, r.URL.Path)
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		switch r.URL.Path {
		case "/one":
			w.WriteHeader(http.StatusNotFound)
		case "/two":
			if r.URL.Query().Get("user_id_type") != "open_id" {
				t.Errorf("user_id_type = %q", r.URL.Query().Get("user_id_type"))
			}
			writeJSON(w, `{"data":{"join_url":"https://vc.example.com/j/2"}}`)
		default:
			t.Errorf("probe after success: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	probes := []MeetingProbe{
		{Domain: srv.URL, Path: "/one", Keys: []string{"url"}},
		{Domain: srv.URL, Path: "/two", Query: map[string]string{"user_id_type": "open_id"}, Keys: []string{"url", "join_url"}},
		{Domain: srv.URL, Path: "/three", Keys: []string{"url"}},
	}
	c := newTestClient(t, srv, probes)
	if got := c.CreateMeeting(context.Background(), "tok"); got != "https://vc.example.com/j/2" {
		t.Errorf("link = %q", got)
	}
	if len(hits) != 2 {
		t.Errorf("hits = %v, want 2 probes", hits)
	}
}

func TestCreateMeeting_FallbackOnTotalFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 but no usable key.
		writeJSON(w, `{"data":{"other":"x"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, []MeetingProbe{{Domain: srv.URL, Path: "/a", Keys: []string{"url"}}})
	if got := c.CreateMeeting(context.Background(), "tok"); got != "https://vc.example.com/j/fallback" {
		t.Errorf("link = %q, want fallback", got)
	}
}

func TestCreateMeeting_NoProbes(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	c := newTestClient(t, srv, nil)
	if got := c.CreateMeeting(context.Background(), "tok"); got != "https://vc.example.com/j/fallback" {
		t.Errorf("link = %q, want fallback", got)
	}
}

// --- Cards ---

func TestDeclarationCard_Shape(t *testing.T) {
	card := DeclarationCard("War Room", "https://vc/j/1")
	data, err := marshal(card)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, want := range []string{
		`"JOIN NOW"`,
		`"url":"https://vc/j/1"`,
		`"name":"issue_val"`,
		`"name":"impact_val"`,
		`"name":"support_val"`,
		`"action":"p0_submit"`,
		`🚨 P0 EMERGENCY — War Room`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("card JSON missing %s", want)
		}
	}
}

func TestResultCard_Markdown(t *testing.T) {
	data, _ := marshal(ResultCard("**bold** & <x>"))
	if !strings.Contains(string(data), `"content":"**bold** & <x>"`) {
		t.Errorf("card JSON = %s", data)
	}
	if !strings.Contains(string(data), `"tag":"lark_md"`) {
		t.Errorf("card JSON missing lark_md: %s", data)
	}
}

// --- Events ---

func encryptForTest(t *testing.T, plain []byte, key string) string {
	t.Helper()
	k := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(k[:])
	if err != nil {
		t.Fatal(err)
	}
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	iv := bytes.Repeat([]byte{7}, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)
	return base64.StdEncoding.EncodeToString(append(iv, ct...))
}

func TestParseEnvelope_Encrypted(t *testing.T) {
	inner := `{"header":{"event_type":"card.action.trigger"},"event":{"context":{"open_chat_id":"oc_9"}}}`
	body := `{"encrypt":"` + encryptForTest(t, []byte(inner), "k3y") + `"}`

	env, err := ParseEnvelope([]byte(body), "k3y")
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Header.EventType != EventTypeCardAction {
		t.Errorf("EventType = %q", env.Header.EventType)
	}
	var ca CardActionEvent
	if err := json.Unmarshal(env.Event, &ca); err != nil {
		t.Fatal(err)
	}
	if ca.Context.OpenChatID != "oc_9" {
		t.Errorf("OpenChatID = %q", ca.Context.OpenChatID)
	}
}

func TestParseEnvelope_EncryptedWithoutKey(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{"encrypt":"abc"}`), ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseEnvelope_URLVerification(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"url_verification","challenge":"c-1"}`), "")
	if err != nil {
		t.Fatal(err)
	}
	if !env.IsURLVerification() || env.Challenge != "c-1" {
		t.Errorf("env = %+v", env)
	}
}

func TestDecrypt_BadInput(t *testing.T) {
	if _, err := Decrypt("!!!", "k"); err == nil {
		t.Error("expected base64 error")
	}
	if _, err := Decrypt(base64.StdEncoding.EncodeToString([]byte("short")), "k"); err == nil {
		t.Error("expected length error")
	}
}

func TestMessageEvent_Text(t *testing.T) {
	var m MessageEvent
	m.Message.Content = `{"text":"P0 declared"}`
	got, err := m.Text()
	if err != nil || got != "P0 declared" {
		t.Errorf("Text = %q, %v", got, err)
	}
	m.Message.Content = "not json"
	if _, err := m.Text(); err == nil {
		t.Error("expected decode error")
	}
}

func TestCardActionEvent_Accessors(t *testing.T) {
	var ca CardActionEvent
	raw := `{"operator":{"user_id":"u_1"},"action":{"value":{"action":"p0_submit"},"form_value":{"issue_val":"db down","impact_val":3}}}`
	if err := json.Unmarshal([]byte(raw), &ca); err != nil {
		t.Fatal(err)
	}
	if ca.ActionName() != SubmitAction {
		t.Errorf("ActionName = %q", ca.ActionName())
	}
	if ca.OperatorID() != "u_1" {
		t.Errorf("OperatorID = %q, want user_id fallback", ca.OperatorID())
	}
	if ca.FormString(FieldIssue) != "db down" {
		t.Errorf("issue = %q", ca.FormString(FieldIssue))
	}
	if ca.FormString(FieldImpact) != "" {
		t.Errorf("non-string impact = %q, want empty", ca.FormString(FieldImpact))
	}
}
