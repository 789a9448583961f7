package lark

import (
	"context"
	"encoding/json"
	"net/http"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
)

// MeetingProbe is one attempt at creating a meeting: an endpoint, the payload
// shape it expects, and the response keys that may carry the join link.
type MeetingProbe struct {
	Domain  string // e.g. https://open.larksuite.com
	Path    string
	Query   map[string]string
	Payload map[string]any
	Keys    []string
}

// URL is the probe endpoint without its query, for logs.
func (p MeetingProbe) URL() string {
	return p.Domain + p.Path
}

// MeetingProbes builds the ordered probe list for each base URL: the vc/v1
// meetings endpoint first, then the legacy conferences endpoint.
func MeetingProbes(bases []string, topic, hostID string) []MeetingProbe {
	probes := make([]MeetingProbe, 0, len(bases)*2)
	for _, base := range bases {
		domain := Domain(base)
		probes = append(probes,
			MeetingProbe{
				Domain:  domain,
				Path:    apiPrefix + "/vc/v1/meetings",
				Query:   map[string]string{"user_id_type": "open_id"},
				Payload: map[string]any{"topic": topic, "host_id": hostID},
				Keys:    []string{"meeting_url", "url", "join_url"},
			},
			MeetingProbe{
				Domain:  domain,
				Path:    apiPrefix + "/videoconference/v1/conferences",
				Query:   map[string]string{"user_id_type": "open_id"},
				Payload: map[string]any{"topic": topic, "conference_type": "common", "host_id": hostID},
				Keys:    []string{"url", "join_url", "meeting_url"},
			},
		)
	}
	return probes
}

// CreateMeeting tries each probe in order and returns the first join link
// found in a 200 response. It never fails: when every probe misses, the
// configured fallback link is returned.
func (c *Client) CreateMeeting(ctx context.Context, token string) string {
	for _, p := range c.probes {
		if link := c.tryProbe(ctx, token, p); link != "" {
			return link
		}
	}
	c.logger.Warn().Str("fallback", c.fallbackLink).Msg("meeting creation failed on all probes; using fallback link")
	return c.fallbackLink
}

func (c *Client) tryProbe(ctx context.Context, token string, p MeetingProbe) string {
	query := larkcore.QueryParams{}
	for k, v := range p.Query {
		query.Set(k, v)
	}
	res, err := c.sdkFor(p.Domain).Do(ctx, &larkcore.ApiReq{
		HttpMethod:                http.MethodPost,
		ApiPath:                   p.Path,
		Body:                      p.Payload,
		QueryParams:               query,
		PathParams:                larkcore.PathParams{},
		SupportedAccessTokenTypes: []larkcore.AccessTokenType{larkcore.AccessTokenTypeTenant},
	}, larkcore.WithTenantAccessToken(token))
	if err != nil {
		c.logger.Error().Err(err).Str("url", p.URL()).Msg("meeting create failed")
		return ""
	}
	c.logger.Info().Str("url", p.URL()).Int("status", res.StatusCode).Str("body", truncate(string(res.RawBody), 250)).Msg("meeting create try")
	if res.StatusCode != http.StatusOK {
		return ""
	}

	var resp struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(res.RawBody, &resp); err != nil || resp.Data == nil {
		return ""
	}
	for _, k := range p.Keys {
		if link, ok := resp.Data[k].(string); ok && link != "" {
			return link
		}
	}
	return ""
}
