package venue

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	apperr "marketmaker/internal/errors"
	"marketmaker/internal/schema"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Signer produces the venue-specific authorization header value for a
// request body. The authentication challenge/signature protocol itself is
// explicitly out of this core's scope (spec §1); HTTPClient only calls
// whatever Signer the caller wires in.
type Signer func(body []byte, secret string) (headerName, headerValue string)

// HTTPClient is a reference OrderApi/AccountApi implementation over
// HTTP+JSON, generalized from the teacher's BTCC delegator
// (internal/order/delegator/btcc/delegator.go): a signed HTTP POST under a
// per-call timeout, decoded with sonic.ConfigFastest. Venue-specific
// endpoint paths and the BTCC MD5 signing scheme are not kept — callers
// supply both via BaseURL and Signer.
type HTTPClient struct {
	BaseURL   string
	Secret    string
	Sign      Signer
	Client    *http.Client
	Timeout   time.Duration
	AccountID string
	LedgerID  string
	KeyType   string
}

// NewHTTPClient returns a client with the teacher's 15-second per-call
// timeout default.
func NewHTTPClient(baseURL, secret string, sign Signer) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		Secret:  secret,
		Sign:    sign,
		Client:  http.DefaultClient,
		Timeout: 15 * time.Second,
	}
}

type submitLimitRequest struct {
	Side            string `json:"side"`
	Price           uint64 `json:"price"`
	Quantity        uint64 `json:"quantity"`
	MarginFactorPPM uint32 `json:"marginFactorPpm"`
	ClientOrderID   string `json:"clientOrderId"`
}

type submitLimitResponse struct {
	OrderID   string `json:"orderId"`
	Status    string `json:"status"`
	FilledQty uint64 `json:"filledQty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// SubmitLimit implements OrderApi.SubmitLimit.
func (c *HTTPClient) SubmitLimit(ctx context.Context, side schema.ContractSide, price schema.Price, qty schema.Quantity, marginFactorPPM uint32, clientOrderID string, token string) (SubmitResult, error) {
	body, err := sonic.ConfigFastest.Marshal(submitLimitRequest{
		Side:            side.Wire(),
		Price:           uint64(price),
		Quantity:        uint64(qty),
		MarginFactorPPM: marginFactorPPM,
		ClientOrderID:   clientOrderID,
	})
	if err != nil {
		return SubmitResult{}, errors.Wrap(err, "encode submit_limit request")
	}

	var out submitLimitResponse
	if err := c.doSignedWithIdempotency(ctx, "/orders", body, token, clientOrderID, &out); err != nil {
		return SubmitResult{}, err
	}
	if out.ErrorCode != "" {
		return SubmitResult{}, classifyVenueError(out.ErrorCode)
	}
	return SubmitResult{
		OrderID:   schema.OrderID(out.OrderID),
		Status:    statusFromWire(out.Status),
		FilledQty: schema.Quantity(out.FilledQty),
	}, nil
}

type cancelRequest struct {
	OrderID string `json:"orderId"`
}

type cancelResponse struct {
	OrderID     string `json:"orderId"`
	UnfilledQty uint64 `json:"unfilledQty"`
	ErrorCode   string `json:"errorCode,omitempty"`
}

// Cancel implements OrderApi.Cancel.
func (c *HTTPClient) Cancel(ctx context.Context, orderID schema.OrderID, token string) (CancelResult, error) {
	body, err := sonic.ConfigFastest.Marshal(cancelRequest{OrderID: string(orderID)})
	if err != nil {
		return CancelResult{}, errors.Wrap(err, "encode cancel request")
	}

	var out cancelResponse
	idempotencyKey := fmt.Sprintf("cancel-%s-%d", orderID, time.Now().UTC().UnixNano())
	if err := c.doSignedWithIdempotency(ctx, "/orders/cancel", body, token, idempotencyKey, &out); err != nil {
		return CancelResult{}, err
	}
	if out.ErrorCode != "" {
		return CancelResult{}, classifyVenueError(out.ErrorCode)
	}
	return CancelResult{
		OrderID:     schema.OrderID(out.OrderID),
		UnfilledQty: schema.Quantity(out.UnfilledQty),
	}, nil
}

type accountResponse struct {
	Balance   uint64 `json:"balance"`
	Positions []struct {
		ID         string `json:"id"`
		Side       string `json:"side"`
		Qty        uint64 `json:"qty"`
		EntryPrice uint64 `json:"entryPrice"`
	} `json:"positions"`
}

// GetAccount implements AccountApi.GetAccount.
func (c *HTTPClient) GetAccount(ctx context.Context, token string) (Account, error) {
	var out accountResponse
	if err := c.doSigned(ctx, "/account", nil, token, &out); err != nil {
		return Account{}, err
	}
	positions := make([]Position, 0, len(out.Positions))
	for _, p := range out.Positions {
		side, _ := schema.SideFromWire(p.Side)
		positions = append(positions, Position{
			PositionID: p.ID,
			Side:       side,
			Quantity:   schema.Quantity(p.Qty),
			EntryPrice: schema.Price(p.EntryPrice),
		})
	}
	return Account{Balance: schema.Notional(out.Balance), Positions: positions}, nil
}

type settleRequest struct {
	Plan []SettlementPlanEntry `json:"plan"`
}

type settleResponse struct {
	SettlementID string `json:"settlementId"`
	ErrorCode    string `json:"errorCode,omitempty"`
}

// Settle implements AccountApi.Settle.
func (c *HTTPClient) Settle(ctx context.Context, plan []SettlementPlanEntry, token string, idempotencyKey string) (SettlementResult, error) {
	body, err := sonic.ConfigFastest.Marshal(settleRequest{Plan: plan})
	if err != nil {
		return SettlementResult{}, errors.Wrap(err, "encode settle request")
	}

	var out settleResponse
	if err := c.doSignedWithIdempotency(ctx, "/settlements", body, token, idempotencyKey, &out); err != nil {
		return SettlementResult{}, err
	}
	if out.ErrorCode != "" {
		return SettlementResult{}, classifyVenueError(out.ErrorCode)
	}
	return SettlementResult{SettlementID: out.SettlementID}, nil
}

type authRequest struct {
	AccountID string `json:"accountId"`
	LedgerID  string `json:"ledgerId"`
	KeyType   string `json:"keyType"`
}

type authResponse struct {
	Token            string `json:"token"`
	ExpiresInSeconds int64  `json:"expiresInSeconds"`
	ErrorCode        string `json:"errorCode,omitempty"`
}

// Authenticate implements AuthApi.Authenticate: a signed challenge POST
// carrying no bearer token (there is none yet), using the same Signer every
// other call uses.
func (c *HTTPClient) Authenticate(ctx context.Context) (AuthToken, error) {
	body, err := sonic.ConfigFastest.Marshal(authRequest{AccountID: c.AccountID, LedgerID: c.LedgerID, KeyType: c.KeyType})
	if err != nil {
		return AuthToken{}, errors.Wrap(err, "encode auth request")
	}

	var out authResponse
	if err := c.doSigned(ctx, "/auth/challenge", body, "", &out); err != nil {
		return AuthToken{}, err
	}
	if out.ErrorCode != "" {
		return AuthToken{}, classifyVenueError(out.ErrorCode)
	}
	return AuthToken{Token: out.Token, ExpiresInSeconds: out.ExpiresInSeconds}, nil
}

type marketInfoResponse struct {
	Symbol             string `json:"symbol"`
	TradingDecimals    uint32 `json:"tradingDecimals"`
	SettlementDecimals uint32 `json:"settlementDecimals"`
}

// GetMarketInfo implements MarketInfoApi.GetMarketInfo, used for the
// startup decimals-match validation.
func (c *HTTPClient) GetMarketInfo(symbol string) (MarketInfo, error) {
	var out marketInfoResponse
	if err := c.doSigned(context.Background(), "/markets/"+symbol, nil, "", &out); err != nil {
		return MarketInfo{}, err
	}
	return MarketInfo{
		Symbol:             out.Symbol,
		TradingDecimals:    out.TradingDecimals,
		SettlementDecimals: out.SettlementDecimals,
	}, nil
}

func (c *HTTPClient) doSigned(ctx context.Context, path string, body []byte, token string, out any) error {
	return c.doSignedWithIdempotency(ctx, path, body, token, "", out)
}

func (c *HTTPClient) doSignedWithIdempotency(ctx context.Context, path string, body []byte, token, idempotencyKey string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.Sign != nil {
		name, value := c.Sign(body, c.Secret)
		req.Header.Set(name, value)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		logs.Error("venue http call failed: %s: %v", path, err)
		return apperr.Transport(err, "venue request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return apperr.Transport(fmt.Errorf("status %d", resp.StatusCode), "venue 5xx")
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return apperr.TokenExpired("token rejected by venue")
	}

	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode venue response")
	}
	return nil
}

func statusFromWire(s string) OrderStatus {
	switch s {
	case "open":
		return OrderStatusOpen
	case "filled":
		return OrderStatusFilled
	case "partially_filled":
		return OrderStatusPartiallyFilled
	case "rejected":
		return OrderStatusRejected
	default:
		return OrderStatusUnknown
	}
}

func classifyVenueError(code string) error {
	switch code {
	case "already_filled", "already_closed":
		return apperr.VenueLogical(apperr.VenueLogicalAlreadyFilledOrClosed, "order already filled or closed")
	case "order_unknown":
		return apperr.VenueLogical(apperr.VenueLogicalOrderUnknown, "order unknown")
	case "challenge_expired":
		return apperr.VenueLogical(apperr.VenueLogicalChallengeExpired, "challenge expired")
	case "invalid_signature":
		return apperr.VenueLogical(apperr.VenueLogicalInvalidSignature, "invalid signature")
	case "already_settled":
		return apperr.VenueLogical(apperr.VenueLogicalAlreadySettled, "already settled")
	default:
		return apperr.VenueLogical(apperr.VenueLogicalInvalid, "venue error: "+code)
	}
}
