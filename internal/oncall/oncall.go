// Package oncall rings the on-call phone list when a P0 is declared and
// reports progress into a chat.
package oncall

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/zulandar/signalbox/internal/metrics"
)

// minNumberLen is the shortest value accepted as an international number.
const minNumberLen = 8

// Chat messages posted to the notify chat.
const (
	msgMissingConfig = "❌ Calling not started: missing Twilio config (SID/TOKEN/FROM/PUBLIC_BASE_URL)."
	msgNoNumbers     = "❌ Calling not started: ONCALL_NUMBERS is empty. Add numbers to .env (comma-separated)."
	msgNoneVerified  = "❌ No calls placed: none of the ONCALL_NUMBERS are verified in Twilio.\n" +
		"Go to Twilio → Phone Numbers → Verified Caller IDs and verify them."
	msgSkippedPrefix = "⚠️ Skipping unverified numbers (Twilio Trial rule):\n"
)

// Provider is the telephony API surface the caller needs.
type Provider interface {
	// VerifiedNumbers returns the numbers the account may call.
	VerifiedNumbers(ctx context.Context) ([]string, error)
	// PlaceCall starts an outbound call that fetches instructions from callbackURL.
	PlaceCall(ctx context.Context, to, from, callbackURL string) error
}

// Poster posts a text message into a chat.
type Poster interface {
	PostText(ctx context.Context, chatID, token, text string) error
}

// Settings holds the calling configuration.
type Settings struct {
	AccountSID    string
	AuthToken     string
	FromNumber    string
	PublicBaseURL string
	Numbers       string // raw comma-separated list
}

func (s Settings) configured() bool {
	return s.AccountSID != "" && s.AuthToken != "" && s.FromNumber != "" && s.PublicBaseURL != ""
}

// Report summarizes one TriggerCalls run.
type Report struct {
	Attempted int      // callable numbers
	Placed    int      // successful call creations
	Skipped   []string // configured but not verified
	Aborted   string   // non-empty when the run stopped early
}

// Caller places on-call phone calls. It holds no per-incident state, so
// repeated invocations are independent.
type Caller struct {
	settings Settings
	provider Provider
	chat     Poster
	logger   zerolog.Logger
}

// NewCaller creates a Caller. provider may be nil when telephony is not
// configured; TriggerCalls then reports the configuration error.
func NewCaller(settings Settings, provider Provider, chat Poster, logger zerolog.Logger) (*Caller, error) {
	if chat == nil {
		return nil, fmt.Errorf("oncall: chat poster is required")
	}
	return &Caller{settings: settings, provider: provider, chat: chat, logger: logger}, nil
}

// LoadNumbers splits a comma-separated list, trims each entry, and keeps only
// values that look like international numbers (leading "+", minimum length).
func LoadNumbers(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		n := strings.TrimSpace(part)
		if strings.HasPrefix(n, "+") && len(n) >= minNumberLen {
			out = append(out, n)
		}
	}
	return out
}

// CallbackURL builds the voice callback for an incident.
func CallbackURL(base, incidentChat, notifyChat string) string {
	q := url.Values{}
	q.Set("incident_chat_id", incidentChat)
	q.Set("notify_chat_id", notifyChat)
	return strings.TrimRight(base, "/") + "/twilio/voice?" + q.Encode()
}

// TriggerCalls notifies notifyChat and calls every verified on-call number.
// Configuration problems are reported once to notifyChat and abort the run.
func (c *Caller) TriggerCalls(ctx context.Context, incidentChat, notifyChat, token string) Report {
	if !c.settings.configured() || c.provider == nil {
		c.post(ctx, notifyChat, token, msgMissingConfig)
		return Report{Aborted: "missing config"}
	}
	numbers := LoadNumbers(c.settings.Numbers)
	if len(numbers) == 0 {
		c.post(ctx, notifyChat, token, msgNoNumbers)
		return Report{Aborted: "no numbers"}
	}

	c.post(ctx, notifyChat, token,
		fmt.Sprintf("🚨 P0 declared in Incident GC (%s). Starting phone call alerts now…", incidentChat))

	verifiedList, err := c.provider.VerifiedNumbers(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("oncall: could not fetch verified caller ids")
	}
	verified := make(map[string]bool, len(verifiedList))
	for _, n := range verifiedList {
		verified[n] = true
	}

	var toCall, skipped []string
	for _, n := range numbers {
		if verified[n] {
			toCall = append(toCall, n)
		} else {
			skipped = append(skipped, n)
		}
	}
	report := Report{Attempted: len(toCall), Skipped: skipped}
	metrics.Calls.WithLabelValues("skipped").Add(float64(len(skipped)))

	if len(skipped) > 0 {
		c.post(ctx, notifyChat, token, msgSkippedPrefix+strings.Join(skipped, "\n"))
	}
	if len(toCall) == 0 {
		c.post(ctx, notifyChat, token, msgNoneVerified)
		report.Aborted = "none verified"
		return report
	}

	callback := CallbackURL(c.settings.PublicBaseURL, incidentChat, notifyChat)
	for _, n := range toCall {
		if err := c.provider.PlaceCall(ctx, n, c.settings.FromNumber, callback); err != nil {
			metrics.Calls.WithLabelValues("failed").Inc()
			c.logger.Error().Err(err).Str("to", n).Msg("oncall: call failed")
			continue
		}
		metrics.Calls.WithLabelValues("placed").Inc()
		c.logger.Info().Str("to", n).Msg("oncall: calling")
		report.Placed++
	}

	c.post(ctx, notifyChat, token,
		fmt.Sprintf("📞 Call attempts finished. Placed: %d/%d", report.Placed, len(toCall)))
	return report
}

func (c *Caller) post(ctx context.Context, chatID, token, text string) {
	if err := c.chat.PostText(ctx, chatID, token, text); err != nil {
		c.logger.Error().Err(err).Str("chat_id", chatID).Msg("oncall: post message failed")
	}
}
