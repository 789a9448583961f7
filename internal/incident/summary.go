package incident

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const timeLayout = "2006-01-02 15:04"

// Translator renders text into Chinese.
type Translator interface {
	ToChinese(ctx context.Context, text string) string
}

// Overview holds the submitted form fields.
type Overview struct {
	Issue   string
	Impact  string
	Support string
}

// formField applies the form defaulting: absent fields become "N/A", then the
// value is trimmed.
func formField(v string) string {
	if v == "" {
		v = "N/A"
	}
	return strings.TrimSpace(v)
}

// BuildSummary formats the bilingual overview. Issue and impact are
// translated; support is passed through unchanged in both halves.
func BuildSummary(ctx context.Context, tr Translator, start time.Time, loc *time.Location, o Overview) string {
	ts := start.In(loc).Format(timeLayout)
	zhIssue := tr.ToChinese(ctx, o.Issue)
	zhImpact := tr.ToChinese(ctx, o.Impact)

	var b strings.Builder
	b.WriteString("**P0 Incident Overview**\n")
	fmt.Fprintf(&b, "🕒 **Time**: %s - Incident Start\n", ts)
	fmt.Fprintf(&b, "🔥 **Issue**: %s\n", o.Issue)
	fmt.Fprintf(&b, "🎯 **Impact Scope**: %s\n", o.Impact)
	fmt.Fprintf(&b, "👥 **Support Request**: %s\n", o.Support)
	b.WriteString("\n")
	b.WriteString("**P0 事故概览**\n")
	fmt.Fprintf(&b, "🕒 **时间**: %s（事故开始）\n", ts)
	fmt.Fprintf(&b, "🔥 **问题**: %s\n", zhIssue)
	fmt.Fprintf(&b, "🎯 **影响范围**: %s\n", zhImpact)
	fmt.Fprintf(&b, "👥 **支援请求**: %s", o.Support)
	return b.String()
}

// declarationMessage is the first broadcast sent when a P0 starts.
func declarationMessage(topic string, start time.Time, loc *time.Location, link string) string {
	return fmt.Sprintf("🚨 Declared P0 on emergency group: %s\n🕒 Time: %s (%s)\nPlease help to join on meeting:\n%s",
		topic, start.In(loc).Format(timeLayout), zoneLabel(loc), link)
}

const callingAdvisory = "📞 Automatic Telegram calling has been initiated to notify OM members.\n" +
	"Please standby and join once ringing is received."

// zoneLabel is the suffix printed after broadcast timestamps.
func zoneLabel(loc *time.Location) string {
	if loc.String() == DefaultTimezone || loc.String() == "PHT" {
		return "PHT"
	}
	return loc.String()
}

// DefaultTimezone is the zone incident times are rendered in.
const DefaultTimezone = "Asia/Manila"

// LoadLocation resolves name, falling back to a fixed UTC+8 zone when the
// tz database is unavailable.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("PHT", 8*60*60)
	}
	return loc
}
