package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/prasetya/stockguard/internal/errs"
)

// HTTPGateway queries the provider's transaction-status endpoint.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration, log zerolog.Logger) *HTTPGateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "payment-gateway").Logger(),
	}
}

func (g *HTTPGateway) QueryStatus(ctx context.Context, gatewayTxID string) (Status, error) {
	url := fmt.Sprintf("%s/v1/transactions/%s", g.baseURL, gatewayTxID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return StatusUnknown, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return StatusUnknown, errs.Wrap(errs.KindPayment, "gateway status query", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return StatusUnknown, nil
	}
	if resp.StatusCode != http.StatusOK {
		return StatusUnknown, errs.Newf(errs.KindPayment, "gateway status query: http %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return StatusUnknown, errs.Wrap(errs.KindPayment, "gateway status decode", err)
	}

	switch Status(body.Status) {
	case StatusPaid, StatusFailed, StatusPending:
		return Status(body.Status), nil
	default:
		g.log.Warn().Str("tx_id", gatewayTxID).Str("status", body.Status).Msg("unrecognized gateway status")
		return StatusUnknown, nil
	}
}
