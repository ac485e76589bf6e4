package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// TwilioCarrier talks to the Twilio REST API directly over HTTP. It
// intentionally avoids any provider SDK dependency.
type TwilioCarrier struct {
	baseURL    string
	accountSID string
	authToken  string
	client     *http.Client
}

// NewTwilioCarrier builds an adapter against baseURL (normally
// https://api.twilio.com). A nil client uses http.DefaultClient, so no local
// timeout is applied beyond the transport defaults.
func NewTwilioCarrier(baseURL, accountSID, authToken string, client *http.Client) *TwilioCarrier {
	if client == nil {
		client = http.DefaultClient
	}
	return &TwilioCarrier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		client:     client,
	}
}

func (t *TwilioCarrier) Name() string { return "twilio" }

type twilioCall struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

const maxCarrierBody = 1 << 20

func (t *TwilioCarrier) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if t.accountSID == "" || t.authToken == "" {
		return PlaceCallResult{}, fmt.Errorf("%w: twilio credentials not set", ErrCarrier)
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Url", req.InstructionURL)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range req.StatusEvents {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", t.baseURL, url.PathEscape(t.accountSID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return PlaceCallResult{}, fmt.Errorf("%w: build request: %v", ErrCarrier, err)
	}
	httpReq.SetBasicAuth(t.accountSID, t.authToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return PlaceCallResult{}, fmt.Errorf("%w: %v", ErrCarrier, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCarrierBody))
	if err != nil {
		return PlaceCallResult{}, fmt.Errorf("%w: read response: %v", ErrCarrier, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var te twilioError
		if json.Unmarshal(body, &te) == nil && te.Message != "" {
			return PlaceCallResult{}, fmt.Errorf("%w: http %d code %d: %s", ErrCarrier, resp.StatusCode, te.Code, te.Message)
		}
		return PlaceCallResult{}, fmt.Errorf("%w: http %d", ErrCarrier, resp.StatusCode)
	}

	var call twilioCall
	if err := json.Unmarshal(body, &call); err != nil {
		return PlaceCallResult{}, fmt.Errorf("%w: decode response: %v", ErrCarrier, err)
	}
	if call.Sid == "" {
		return PlaceCallResult{}, fmt.Errorf("%w: response has no call sid", ErrCarrier)
	}
	return PlaceCallResult{Sid: call.Sid, Status: call.Status}, nil
}
