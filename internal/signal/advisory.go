package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

// AdvisoryProvider consults an external advisory oracle over HTTP for entry
// decisions and open-leg re-evaluation. The oracle is treated as unreliable:
// any transport or decode failure surfaces as an error the engine degrades
// to no-trade (entries) or HOLD (exits).
type AdvisoryProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

var (
	_ domain.SignalProvider = (*AdvisoryProvider)(nil)
	_ domain.ExitAdvisor    = (*AdvisoryProvider)(nil)
)

// NewAdvisoryProvider creates an advisory-backed provider.
func NewAdvisoryProvider(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *AdvisoryProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AdvisoryProvider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "advisory_signal")),
	}
}

// Name identifies the provider in position records and status output.
func (p *AdvisoryProvider) Name() string { return "advisory" }

// decideRequest is the JSON body sent to the oracle's decide endpoint.
type decideRequest struct {
	Ticker           string  `json:"ticker"`
	YesAsk           float64 `json:"yes_ask"`
	NoAsk            float64 `json:"no_ask"`
	Strike           float64 `json:"strike"`
	RefPrice         float64 `json:"ref_price"`
	Capital          float64 `json:"capital"`
	WindowKey        string  `json:"window_key"`
	MinutesRemaining float64 `json:"minutes_remaining"`
}

// decideResponse is the oracle's entry recommendation. Action is "buy_yes",
// "buy_no", or "none".
type decideResponse struct {
	Action    string  `json:"action"`
	SizeHint  float64 `json:"size_hint"`
	Rationale string  `json:"rationale"`
}

// Decide asks the oracle for an entry recommendation. A "none" action maps
// to a nil decision.
func (p *AdvisoryProvider) Decide(ctx context.Context, in domain.DecisionInput) (*domain.TradeDecision, error) {
	req := decideRequest{
		Ticker:           in.Market.Ticker,
		YesAsk:           in.Market.YesAsk,
		NoAsk:            in.Market.NoAsk,
		Strike:           in.Market.Strike,
		RefPrice:         in.RefPrice,
		Capital:          in.Capital,
		WindowKey:        in.WindowKey,
		MinutesRemaining: in.MinutesRemaining,
	}

	var resp decideResponse
	if err := p.post(ctx, "/decide", req, &resp); err != nil {
		return nil, err
	}

	switch resp.Action {
	case "buy_yes":
		return &domain.TradeDecision{Direction: domain.SideYes, SizeHint: resp.SizeHint, Rationale: resp.Rationale}, nil
	case "buy_no":
		return &domain.TradeDecision{Direction: domain.SideNo, SizeHint: resp.SizeHint, Rationale: resp.Rationale}, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("signal: advisory returned unknown action %q", resp.Action)
	}
}

// exitsRequest is the JSON body sent to the oracle's exits endpoint.
type exitsRequest struct {
	Legs []exitLeg `json:"legs"`
}

type exitLeg struct {
	Ticker     string  `json:"ticker"`
	Side       string  `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	Contracts  int64   `json:"contracts"`
	WindowKey  string  `json:"window_key"`
}

type exitsResponse struct {
	Advices []struct {
		Ticker string `json:"ticker"`
		Action string `json:"action"` // "HOLD" or "EXIT"
	} `json:"advices"`
}

// CheckExits asks the oracle to re-evaluate the open legs. Unknown actions
// read as HOLD; callers already treat transport errors as HOLD.
func (p *AdvisoryProvider) CheckExits(ctx context.Context, legs []domain.Position) ([]domain.ExitAdvice, error) {
	if len(legs) == 0 {
		return nil, nil
	}

	req := exitsRequest{Legs: make([]exitLeg, 0, len(legs))}
	for _, leg := range legs {
		req.Legs = append(req.Legs, exitLeg{
			Ticker:     leg.Ticker,
			Side:       string(leg.Side),
			EntryPrice: leg.EntryPrice,
			Contracts:  leg.Contracts,
			WindowKey:  leg.WindowKey,
		})
	}

	var resp exitsResponse
	if err := p.post(ctx, "/exits", req, &resp); err != nil {
		return nil, err
	}

	advices := make([]domain.ExitAdvice, 0, len(resp.Advices))
	for _, a := range resp.Advices {
		action := domain.ExitActionHold
		if a.Action == string(domain.ExitActionExit) {
			action = domain.ExitActionExit
		}
		advices = append(advices, domain.ExitAdvice{Ticker: a.Ticker, Action: action})
	}
	return advices, nil
}

func (p *AdvisoryProvider) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("signal: advisory marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("signal: advisory request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("signal: advisory %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("signal: advisory read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signal: advisory %s: HTTP %d", path, resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("signal: advisory decode: %w", err)
	}
	return nil
}
