// Package translate memoizes incident-text translation into Simplified Chinese.
package translate

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zulandar/signalbox/internal/llm"
	"github.com/zulandar/signalbox/internal/metrics"
)

// targetTag prefixes every cache key.
const targetTag = "zh"

// SystemPrompt is sent with every translation request.
const SystemPrompt = "You are a translator for incident reports (P0/P1 on-call) in gaming/fintech operations.\n" +
	"Translate the user's text into Simplified Chinese.\n" +
	"\n" +
	"Disambiguation rules (do NOT ask questions):\n" +
	"- In ops/incident context, the word 'credit' is most likely about account balance/coins/funds being credited.\n" +
	"- Only translate 'credit' as '致谢/鸣谢' if the text is clearly about papers/books/presentations or an acknowledgements section.\n" +
	"\n" +
	"Strict rules:\n" +
	"- Keep acronyms/team names unchanged (e.g., FE, SRE, FPMS, Albularyo).\n" +
	"- Keep numbers unchanged.\n" +
	"- Do not add meaning, jokes, or rewrite the message.\n" +
	"- If the input has slang/filler (e.g., 'lets go'), translate literally without inventing new content.\n" +
	"\n" +
	"Return ONLY the translated text. No quotes, no explanations."

// Cache translates text and remembers every result, including failures
// (which are cached as the original text). Entries are never invalidated.
type Cache struct {
	provider llm.Completer // nil means no provider configured
	logger   zerolog.Logger

	mu      sync.Mutex
	entries map[string]string
}

// New creates a Cache. A nil provider makes every translation a pass-through.
func New(provider llm.Completer, logger zerolog.Logger) *Cache {
	return &Cache{
		provider: provider,
		logger:   logger,
		entries:  make(map[string]string),
	}
}

// ToChinese returns the Simplified Chinese translation of text. It never
// fails: on any provider problem the original text is returned (and cached).
// Blank input is returned as-is and not cached.
func (c *Cache) ToChinese(ctx context.Context, text string) string {
	src := strings.TrimSpace(text)
	if src == "" {
		return src
	}
	key := targetTag + ":" + src

	c.mu.Lock()
	if out, ok := c.entries[key]; ok {
		c.mu.Unlock()
		metrics.Translations.WithLabelValues("hit").Inc()
		return out
	}
	c.mu.Unlock()

	out := src
	result := "passthrough"
	if c.provider != nil {
		translated, err := c.provider.Complete(ctx, SystemPrompt, src)
		switch {
		case err != nil:
			c.logger.Error().Err(err).Msg("translate failed")
			result = "error"
		case translated == "":
			c.logger.Warn().Msg("translate returned empty output")
			result = "error"
		default:
			out = translated
			result = "translated"
		}
	}
	metrics.Translations.WithLabelValues(result).Inc()

	c.mu.Lock()
	c.entries[key] = out
	c.mu.Unlock()
	return out
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
