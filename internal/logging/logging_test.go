package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetup_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("info", false, &buf)
	logger.Info().Str("chat_id", "oc_1").Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"chat_id":"oc_1"`) {
		t.Errorf("output = %q, want chat_id field", out)
	}
	if !strings.Contains(out, `"service":"signalbox"`) {
		t.Errorf("output = %q, want service field", out)
	}
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("warn", false, &buf)
	logger.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("info log emitted at warn level: %q", buf.String())
	}
	logger.Warn().Msg("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn log missing: %q", buf.String())
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func TestSetup_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	Setup("chatty", false, &buf)
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("GlobalLevel = %v, want info", zerolog.GlobalLevel())
	}
}
