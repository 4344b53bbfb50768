package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vitos/intraday_ladder_bot/internal/domain"
)

const DefaultKiteBaseURL = "https://api.kite.trade"

// KiteGateway places intraday market orders through a Kite-style REST
// order API. Session/token management is external; the gateway only
// consumes a ready api key + access token pair.
type KiteGateway struct {
	apiKey      string
	accessToken string
	baseURL     string
	client      *http.Client
}

func NewKiteGateway(apiKey, accessToken, baseURL string) *KiteGateway {
	if baseURL == "" {
		baseURL = DefaultKiteBaseURL
	}
	return &KiteGateway{
		apiKey:      apiKey,
		accessToken: accessToken,
		baseURL:     baseURL,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Place sends one regular MIS market order. Anything but a success
// response with an order id is a placement failure; the caller decides
// what that means for ladder state.
func (k *KiteGateway) Place(ctx context.Context, req *domain.OrderRequest) (string, error) {
	form := url.Values{}
	form.Set("tradingsymbol", req.Instrument.Symbol)
	form.Set("exchange", req.Instrument.Exchange)
	form.Set("transaction_type", string(req.Side))
	form.Set("order_type", "MARKET")
	form.Set("quantity", strconv.FormatInt(req.Quantity, 10))
	form.Set("product", "MIS")
	form.Set("validity", "DAY")
	form.Set("tag", string(req.Tag))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+"/orders/regular", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("X-Kite-Version", "3")
	httpReq.Header.Set("Authorization", "token "+k.apiKey+":"+k.accessToken)

	resp, err := k.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var result struct {
		Status string `json:"status"`
		Data   struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
		Message   string `json:"message"`
		ErrorType string `json:"error_type"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode order response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 || result.Status != "success" {
		return "", fmt.Errorf("order rejected (%s): %s", result.ErrorType, result.Message)
	}
	if result.Data.OrderID == "" {
		return "", fmt.Errorf("order response missing order id")
	}
	return result.Data.OrderID, nil
}
