package lark

import (
	"crypto/aes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	larkevent "github.com/larksuite/oapi-sdk-go/v3/event"
)

// Event types recognized by the router.
const (
	EventTypeCardAction      = "card.action.trigger"
	EventTypeURLVerification = "url_verification"
)

// Envelope is the outer webhook payload after decryption.
type Envelope struct {
	Encrypt   string          `json:"encrypt,omitempty"`
	Type      string          `json:"type,omitempty"`
	Challenge string          `json:"challenge,omitempty"`
	Header    EventHeader     `json:"header"`
	Event     json.RawMessage `json:"event,omitempty"`
}

// EventHeader identifies a v2 event.
type EventHeader struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
}

// IsURLVerification reports whether the envelope is the platform's endpoint
// verification handshake.
func (e *Envelope) IsURLVerification() bool {
	return e.Type == EventTypeURLVerification
}

// MessageEvent is the im.message.receive_v1 event body.
type MessageEvent struct {
	Sender struct {
		SenderID struct {
			OpenID string `json:"open_id"`
		} `json:"sender_id"`
	} `json:"sender"`
	Message struct {
		MessageID   string `json:"message_id"`
		ChatID      string `json:"chat_id"`
		MessageType string `json:"message_type"`
		Content     string `json:"content"` // JSON-encoded, e.g. {"text":"..."}
	} `json:"message"`
}

// Text decodes the text field of the JSON-encoded message content.
func (m *MessageEvent) Text() (string, error) {
	if m.Message.Content == "" {
		return "", nil
	}
	var c struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(m.Message.Content), &c); err != nil {
		return "", fmt.Errorf("lark: decode message content: %w", err)
	}
	return c.Text, nil
}

// CardActionEvent is the card.action.trigger event body.
type CardActionEvent struct {
	Operator struct {
		OpenID string `json:"open_id"`
		UserID string `json:"user_id"`
	} `json:"operator"`
	Action struct {
		Value     map[string]any `json:"value"`
		FormValue map[string]any `json:"form_value"`
	} `json:"action"`
	Context struct {
		OpenChatID string `json:"open_chat_id"`
	} `json:"context"`
}

// ActionName returns action.value.action, or "".
func (c *CardActionEvent) ActionName() string {
	s, _ := c.Action.Value["action"].(string)
	return s
}

// OperatorID returns the operator's open_id, falling back to user_id.
func (c *CardActionEvent) OperatorID() string {
	if c.Operator.OpenID != "" {
		return c.Operator.OpenID
	}
	return c.Operator.UserID
}

// FormString returns a submitted form value as a string, or "".
func (c *CardActionEvent) FormString(name string) string {
	s, _ := c.Action.FormValue[name].(string)
	return s
}

// ParseEnvelope decodes a webhook body, decrypting it first when it carries
// an "encrypt" field.
func ParseEnvelope(body []byte, encryptKey string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("lark: decode envelope: %w", err)
	}
	if env.Encrypt == "" {
		return &env, nil
	}
	if encryptKey == "" {
		return nil, errors.New("lark: encrypted payload but no encrypt key configured")
	}
	plain, err := Decrypt(env.Encrypt, encryptKey)
	if err != nil {
		return nil, err
	}
	var inner Envelope
	if err := json.Unmarshal(plain, &inner); err != nil {
		return nil, fmt.Errorf("lark: decode decrypted envelope: %w", err)
	}
	return &inner, nil
}

// Decrypt reverses the platform's event encryption (AES-256-CBC keyed with
// SHA-256(encryptKey), IV prefixed to the ciphertext). Malformed input is
// rejected before it reaches the SDK decrypter.
func Decrypt(encrypted, encryptKey string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("lark: decrypt: base64: %w", err)
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, errors.New("lark: decrypt: ciphertext has invalid length")
	}
	plain, err := larkevent.EventDecrypt(encrypted, encryptKey)
	if err != nil {
		return nil, fmt.Errorf("lark: decrypt: %w", err)
	}
	return plain, nil
}
