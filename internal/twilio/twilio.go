// Package twilio wraps the Twilio REST API for outbound SMS and voice calls.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/BTreeMap/LeadPipe/internal/util"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// ErrVoiceURLNotSet is returned by PlaceCall when no voice webhook is configured.
var ErrVoiceURLNotSet = errors.New("twilio voice URL not configured")

// Sender places calls and sends text messages.
type Sender interface {
	SendSMS(ctx context.Context, from, to, body string) (string, error)
	PlaceCall(ctx context.Context, req CallRequest) (CallResult, error)
}

// CallRequest describes an outbound AI agent call.
type CallRequest struct {
	From    string
	To      string
	AgentID string
	LeadID  string
}

// CallResult is the provider's answer to a call request.
type CallResult struct {
	SID    string
	Status string
}

// restAPI is the subset of the Twilio v2010 API used here.
type restAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
}

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
	VoiceURL   string
	DryRun     bool
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithVoiceURL sets the TwiML webhook that connects placed calls to the agent.
func WithVoiceURL(u string) Option {
	return func(o *Opts) { o.VoiceURL = u }
}

// WithDryRun makes the client log requests instead of sending them.
func WithDryRun(dryRun bool) Option {
	return func(o *Opts) { o.DryRun = dryRun }
}

// Client wraps the Twilio REST API.
type Client struct {
	api      restAPI
	voiceURL string
	dryRun   bool
}

// Compile-time check that Client implements Sender.
var _ Sender = (*Client)(nil)

// NewClient creates a Twilio client. Credentials fall back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_VOICE_URL.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	// Fallback to environment variables if not provided via options
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.VoiceURL == "" {
		cfg.VoiceURL = os.Getenv("TWILIO_VOICE_URL")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"VoiceURL_set", cfg.VoiceURL != "",
		"dryRun", cfg.DryRun)

	if cfg.DryRun {
		return &Client{voiceURL: cfg.VoiceURL, dryRun: true}, nil
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)
	return &Client{api: client.Api, voiceURL: cfg.VoiceURL}, nil
}

// SendSMS sends body from one E.164 number to another and returns the message SID.
func (c *Client) SendSMS(ctx context.Context, from, to, body string) (string, error) {
	if c.dryRun {
		slog.Info("Twilio.SendSMS: dry run", "from", from, "to", to, "length", len(body))
		return "dry-run-" + util.GenerateID(), nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(body)

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio.SendSMS failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to send sms to %s: %w", to, err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("Twilio.SendSMS: message sent", "to", to, "sid", sid)
	return sid, nil
}

// PlaceCall starts an outbound call that Twilio connects to the voice URL,
// tagged with the agent and lead ids.
func (c *Client) PlaceCall(ctx context.Context, req CallRequest) (CallResult, error) {
	if c.voiceURL == "" && !c.dryRun {
		return CallResult{}, ErrVoiceURLNotSet
	}
	callbackURL, err := voiceCallbackURL(c.voiceURL, req)
	if err != nil {
		return CallResult{}, err
	}
	if c.dryRun {
		slog.Info("Twilio.PlaceCall: dry run", "from", req.From, "to", req.To, "agentID", req.AgentID, "leadID", req.LeadID)
		return CallResult{SID: "dry-run-" + util.GenerateID(), Status: "queued"}, nil
	}
	if err := ctx.Err(); err != nil {
		return CallResult{}, err
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(req.From)
	params.SetUrl(callbackURL)

	resp, err := c.api.CreateCall(params)
	if err != nil {
		slog.Error("Twilio.PlaceCall failed", "to", req.To, "leadID", req.LeadID, "error", err)
		return CallResult{}, fmt.Errorf("failed to place call to %s: %w", req.To, err)
	}
	result := CallResult{Status: "queued"}
	if resp != nil {
		if resp.Sid != nil {
			result.SID = *resp.Sid
		}
		if resp.Status != nil && *resp.Status != "" {
			result.Status = *resp.Status
		}
	}
	slog.Debug("Twilio.PlaceCall: call created", "to", req.To, "sid", result.SID, "status", result.Status)
	return result, nil
}

func voiceCallbackURL(base string, req CallRequest) (string, error) {
	if base == "" {
		return "", nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid voice URL: %w", err)
	}
	q := u.Query()
	if req.AgentID != "" {
		q.Set("agent_id", req.AgentID)
	}
	if req.LeadID != "" {
		q.Set("lead_id", req.LeadID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
