package translate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type fakeCompleter struct {
	mu    sync.Mutex
	calls []string
	out   string
	err   error
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, user)
	if system != SystemPrompt {
		return "", errors.New("unexpected system prompt")
	}
	return f.out, f.err
}

func (f *fakeCompleter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestToChinese_EmptyNotCached(t *testing.T) {
	fc := &fakeCompleter{out: "x"}
	c := New(fc, zerolog.Nop())

	for _, in := range []string{"", "   ", "\n\t"} {
		if got := c.ToChinese(context.Background(), in); got != "" {
			t.Errorf("ToChinese(%q) = %q, want empty", in, got)
		}
	}
	if c.Len() != 0 {
		t.Errorf("cache len = %d, want 0", c.Len())
	}
	if fc.count() != 0 {
		t.Errorf("provider calls = %d, want 0", fc.count())
	}
}

func TestToChinese_SecondCallIsCacheHit(t *testing.T) {
	fc := &fakeCompleter{out: "支付失败"}
	c := New(fc, zerolog.Nop())

	first := c.ToChinese(context.Background(), "payments failing")
	second := c.ToChinese(context.Background(), "payments failing")
	if first != "支付失败" || second != first {
		t.Errorf("got %q then %q, want identical translations", first, second)
	}
	if fc.count() != 1 {
		t.Errorf("provider calls = %d, want 1", fc.count())
	}
}

func TestToChinese_NoNormalizationBeyondTrim(t *testing.T) {
	fc := &fakeCompleter{out: "t"}
	c := New(fc, zerolog.Nop())
	c.ToChinese(context.Background(), "Login down")
	c.ToChinese(context.Background(), "login down")
	c.ToChinese(context.Background(), "login  down")
	if fc.count() != 3 {
		t.Errorf("provider calls = %d, want 3 distinct keys", fc.count())
	}
}

func TestToChinese_NoProviderPassThroughCached(t *testing.T) {
	c := New(nil, zerolog.Nop())
	if got := c.ToChinese(context.Background(), " FE deploy stuck "); got != "FE deploy stuck" {
		t.Errorf("got %q, want trimmed pass-through", got)
	}
	if c.Len() != 1 {
		t.Errorf("cache len = %d, want 1", c.Len())
	}
}

func TestToChinese_ProviderErrorCachesOriginal(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("502")}
	c := New(fc, zerolog.Nop())

	if got := c.ToChinese(context.Background(), "credit not received"); got != "credit not received" {
		t.Errorf("got %q, want original", got)
	}
	// The failure is permanent for this key.
	fc.err = nil
	fc.out = "未到账"
	if got := c.ToChinese(context.Background(), "credit not received"); got != "credit not received" {
		t.Errorf("got %q, want cached original", got)
	}
	if fc.count() != 1 {
		t.Errorf("provider calls = %d, want 1", fc.count())
	}
}

func TestToChinese_EmptyOutputFallsBack(t *testing.T) {
	fc := &fakeCompleter{out: ""}
	c := New(fc, zerolog.Nop())
	if got := c.ToChinese(context.Background(), "lets go"); got != "lets go" {
		t.Errorf("got %q, want original", got)
	}
}

func TestToChinese_Concurrent(t *testing.T) {
	fc := &fakeCompleter{out: "好"}
	c := New(fc, zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := c.ToChinese(context.Background(), "ok"); got != "好" {
				t.Errorf("got %q", got)
			}
		}()
	}
	wg.Wait()
	if c.Len() != 1 {
		t.Errorf("cache len = %d, want 1", c.Len())
	}
}
