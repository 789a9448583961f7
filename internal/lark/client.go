// Package lark is a small client for the Lark open platform: tenant token
// caching, message and card posting, best-effort meeting creation, document
// fetch, and webhook event decoding.
package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	larksdk "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkdocx "github.com/larksuite/oapi-sdk-go/v3/service/docx/v1"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every outbound call to the platform.
const DefaultTimeout = 10 * time.Second

// apiPrefix is part of every open API path; configured base URLs may carry it.
const apiPrefix = "/open-apis"

// Client talks to the Lark IM, VC and docx APIs through the official SDK.
// The SDK's own token cache is disabled: every call carries a tenant token
// supplied by the caller. It is safe for concurrent use.
type Client struct {
	appID        string
	appSecret    string
	domain       string
	http         *http.Client
	sdk          *larksdk.Client
	probes       []MeetingProbe
	fallbackLink string
	logger       zerolog.Logger

	mu      sync.Mutex
	domains map[string]*larksdk.Client // probe domain -> sdk client
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	AppID        string
	AppSecret    string
	BaseURL      string         // IM/auth/docx base, e.g. https://open-sg.larksuite.com/open-apis
	HTTPClient   *http.Client   // defaults to a client with DefaultTimeout
	Probes       []MeetingProbe // meeting-creation attempts, tried in order
	FallbackLink string         // used when every probe fails
	Logger       zerolog.Logger
}

// NewClient creates a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.AppID == "" || opts.AppSecret == "" {
		return nil, fmt.Errorf("lark: app id and secret are required")
	}
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("lark: base url is required")
	}
	if opts.FallbackLink == "" {
		return nil, fmt.Errorf("lark: fallback meeting link is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	c := &Client{
		appID:        opts.AppID,
		appSecret:    opts.AppSecret,
		domain:       Domain(opts.BaseURL),
		http:         hc,
		probes:       opts.Probes,
		fallbackLink: opts.FallbackLink,
		logger:       opts.Logger,
		domains:      make(map[string]*larksdk.Client),
	}
	c.sdk = c.sdkFor(c.domain)
	return c, nil
}

// Domain strips the open API prefix and trailing slashes from a base URL,
// leaving the host form the SDK expects.
func Domain(base string) string {
	return strings.TrimSuffix(strings.TrimRight(base, "/"), apiPrefix)
}

// sdkFor returns the SDK client bound to domain, creating it on first use.
func (c *Client) sdkFor(domain string) *larksdk.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cli, ok := c.domains[domain]; ok {
		return cli
	}
	cli := larksdk.NewClient(c.appID, c.appSecret,
		larksdk.WithOpenBaseUrl(domain),
		larksdk.WithEnableTokenCache(false),
		larksdk.WithHttpClient(c.http),
		larksdk.WithLogger(sdkLogger{log: c.logger}),
		larksdk.WithLogLevel(larkcore.LogLevelError),
	)
	c.domains[domain] = cli
	return cli
}

// PostText sends a plain text message to a chat.
func (c *Client) PostText(ctx context.Context, chatID, token, text string) error {
	content, err := marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("lark: post text: %w", err)
	}
	return c.sendMessage(ctx, chatID, token, larkim.MsgTypeText, content)
}

// PostCard sends an interactive card to a chat.
func (c *Client) PostCard(ctx context.Context, chatID, token string, card Card) error {
	content, err := marshal(card)
	if err != nil {
		return fmt.Errorf("lark: post card: %w", err)
	}
	return c.sendMessage(ctx, chatID, token, larkim.MsgTypeInteractive, content)
}

func (c *Client) sendMessage(ctx context.Context, chatID, token, msgType string, content []byte) error {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(msgType).
			Content(string(content)).
			Build()).
		Build()

	resp, err := c.sdk.Im.V1.Message.Create(ctx, req, larkcore.WithTenantAccessToken(token))
	if err != nil {
		return fmt.Errorf("lark: send %s: %w", msgType, err)
	}
	c.logger.Debug().Str("chat_id", chatID).Str("msg_type", msgType).Int("code", resp.Code).Msg("lark message posted")
	if !resp.Success() {
		return fmt.Errorf("lark: send %s: code %d: %s", msgType, resp.Code, resp.Msg)
	}
	return nil
}

// FetchDocument returns the raw text content of a docx document.
func (c *Client) FetchDocument(ctx context.Context, token, docToken string) (string, error) {
	req := larkdocx.NewRawContentDocumentReqBuilder().
		DocumentId(docToken).
		Build()

	resp, err := c.sdk.Docx.V1.Document.RawContent(ctx, req, larkcore.WithTenantAccessToken(token))
	if err != nil {
		return "", fmt.Errorf("lark: fetch document: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("lark: fetch document: code %d: %s", resp.Code, resp.Msg)
	}
	if resp.Data == nil || resp.Data.Content == nil {
		return "", nil
	}
	return *resp.Data.Content, nil
}

// marshal encodes v as JSON without HTML escaping so card markdown and
// non-ASCII text reach the platform unchanged.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// truncate returns s truncated to maxLen with "..." appended if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// sdkLogger routes SDK log lines into zerolog.
type sdkLogger struct {
	log zerolog.Logger
}

func (l sdkLogger) Debug(_ context.Context, args ...interface{}) {
	l.log.Debug().Str("component", "lark-sdk").Msg(fmt.Sprint(args...))
}

func (l sdkLogger) Info(_ context.Context, args ...interface{}) {
	l.log.Info().Str("component", "lark-sdk").Msg(fmt.Sprint(args...))
}

func (l sdkLogger) Warn(_ context.Context, args ...interface{}) {
	l.log.Warn().Str("component", "lark-sdk").Msg(fmt.Sprint(args...))
}

func (l sdkLogger) Error(_ context.Context, args ...interface{}) {
	l.log.Error().Str("component", "lark-sdk").Msg(fmt.Sprint(args...))
}
