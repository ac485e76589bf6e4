package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"callbridge/internal/calls"
	"callbridge/internal/config"
	"callbridge/internal/metrics"
)

// Paths the carrier calls back on, relative to the public base URL.
const (
	InstructionPath    = "/api/voice/twiml"
	StatusCallbackPath = "/api/voice/status"
)

// Gateway mints browser calling credentials and places operator calls
// through the carrier. It keeps no state between invocations.
type Gateway struct {
	cfg     config.VoiceConfig
	carrier Carrier
	log     *slog.Logger
	metrics *metrics.Collector

	Now func() time.Time
}

// NewGateway wires a gateway. A nil carrier defaults to the Twilio REST
// adapter built from cfg.
func NewGateway(cfg config.VoiceConfig, carrier Carrier, log *slog.Logger, m *metrics.Collector) *Gateway {
	if carrier == nil {
		carrier = NewTwilioCarrier(cfg.APIBaseURL, cfg.AccountSID, cfg.AuthToken, nil)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{cfg: cfg, carrier: carrier, log: log, metrics: m, Now: time.Now}
}

// Missing lists every carrier setting either operation needs that is unset.
func (g *Gateway) Missing() []string { return g.cfg.Missing() }

// MintCredential returns a signed token granting identity outgoing calls
// through the configured application and inbound delivery.
func (g *Gateway) MintCredential(ctx context.Context, identity string) (string, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", fmt.Errorf("%w: identity is required", ErrInvalidArgument)
	}
	if err := missingConfig(g.cfg.MissingForCredentials()); err != nil {
		return "", err
	}

	keySID, secret := g.cfg.SigningKey()
	minter, err := NewTokenMinter(g.cfg.AccountSID, keySID, secret, g.cfg.TwiMLAppSID, g.cfg.TokenTTL)
	if err != nil {
		return "", err
	}
	token, err := minter.Mint(g.Now(), identity)
	if err != nil {
		return "", fmt.Errorf("voice: sign credential: %w", err)
	}

	g.metrics.RecordCredentialMinted()
	g.log.InfoContext(ctx, "voice credential minted", "identity", identity)
	return token, nil
}

// PlaceCall asks the carrier to ring the operator. label is the visitor's
// phone number or name and is announced when present. It returns as soon as
// the carrier accepts the request; progress arrives via status callbacks.
func (g *Gateway) PlaceCall(ctx context.Context, label string) (calls.Call, error) {
	if err := missingConfig(g.cfg.MissingForCalls()); err != nil {
		return calls.Call{}, err
	}
	label = strings.TrimSpace(label)

	req := PlaceCallRequest{
		From:              g.cfg.PhoneNumber,
		To:                g.cfg.OperatorNumber,
		InstructionURL:    g.instructionURL(label),
		StatusCallbackURL: g.cfg.PublicBaseURL + StatusCallbackPath,
		StatusEvents:      StatusEvents,
	}

	res, err := g.carrier.PlaceCall(ctx, req)
	if err != nil {
		g.metrics.RecordCarrierRequest("place_call", "error")
		if !errors.Is(err, ErrCarrier) {
			err = fmt.Errorf("%w: %v", ErrCarrier, err)
		}
		g.log.ErrorContext(ctx, "carrier call placement failed", "carrier", g.carrier.Name(), "err", err)
		return calls.Call{}, err
	}
	g.metrics.RecordCarrierRequest("place_call", "ok")

	status, ok := calls.ParseStatus(res.Status)
	if !ok {
		status = calls.StatusQueued
	}
	call := calls.Call{
		Sid:       res.Sid,
		From:      req.From,
		To:        req.To,
		Status:    status,
		Label:     label,
		CreatedAt: g.Now().UTC(),
	}
	g.log.InfoContext(ctx, "carrier call placed", "call_sid", call.Sid, "carrier", g.carrier.Name(), "label", label)
	return call, nil
}

func (g *Gateway) instructionURL(label string) string {
	u := g.cfg.PublicBaseURL + InstructionPath
	if label == "" {
		return u
	}
	return u + "?" + url.Values{"caller": {label}}.Encode()
}
