package notify

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// discordMaxLen is Discord's message length limit.
const discordMaxLen = 2000

// discordSession abstracts the discordgo method we use, enabling test mocks.
type discordSession interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordChannel posts messages to one Discord channel over the REST API.
type DiscordChannel struct {
	sess      discordSession
	channelID string
}

// NewDiscord returns a DiscordChannel, or nil when the token or channel is
// missing. No gateway connection is opened; only REST calls are made.
func NewDiscord(botToken, channelID string) (*DiscordChannel, error) {
	if botToken == "" || channelID == "" {
		return nil, nil
	}
	dg, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &DiscordChannel{sess: dg, channelID: channelID}, nil
}

// Name implements Channel.
func (d *DiscordChannel) Name() string { return "discord" }

// Send implements Channel. Long messages are split at newlines.
func (d *DiscordChannel) Send(ctx context.Context, text string) error {
	for _, chunk := range chunkMessage(text, discordMaxLen) {
		if _, err := d.sess.ChannelMessageSend(d.channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord: send message: %w", err)
		}
	}
	return nil
}

// chunkMessage splits text into chunks of at most maxLen characters,
// preferring to break at a newline in the second half of each chunk. Splits
// always fall on rune boundaries.
func chunkMessage(text string, maxLen int) []string {
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if utf8.RuneCountInString(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		// Byte offset just past the first maxLen runes.
		end, n := 0, 0
		for end < len(text) && n < maxLen {
			_, size := utf8.DecodeRuneInString(text[end:])
			end += size
			n++
		}
		chunk := text[:end]
		breakAt := -1
		if nl := strings.LastIndexByte(chunk, '\n'); nl >= 0 && utf8.RuneCountInString(chunk[:nl]) >= maxLen/2 {
			breakAt = nl
		}
		if breakAt >= 0 {
			chunks = append(chunks, text[:breakAt])
			text = text[breakAt+1:]
		} else {
			chunks = append(chunks, chunk)
			text = text[end:]
		}
	}
	return chunks
}
