package oncall

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioProvider implements Provider with the Twilio REST API.
type TwilioProvider struct {
	client *twilio.RestClient
}

// NewTwilio creates a TwilioProvider, or returns nil when credentials are missing.
func NewTwilio(accountSID, authToken string) *TwilioProvider {
	if accountSID == "" || authToken == "" {
		return nil
	}
	return &TwilioProvider{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
	}
}

// VerifiedNumbers lists the account's verified outgoing caller IDs. Trial
// accounts can only call these.
func (t *TwilioProvider) VerifiedNumbers(ctx context.Context) ([]string, error) {
	ids, err := t.client.Api.ListOutgoingCallerId(&twilioapi.ListOutgoingCallerIdParams{})
	if err != nil {
		return nil, fmt.Errorf("twilio: list outgoing caller ids: %w", err)
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id.PhoneNumber != nil && *id.PhoneNumber != "" {
			out = append(out, *id.PhoneNumber)
		}
	}
	return out, nil
}

// PlaceCall creates an outbound call.
func (t *TwilioProvider) PlaceCall(ctx context.Context, to, from, callbackURL string) error {
	params := &twilioapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetUrl(callbackURL)
	if _, err := t.client.Api.CreateCall(params); err != nil {
		return fmt.Errorf("twilio: create call to %s: %w", to, err)
	}
	return nil
}
