package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// envelope is the signed wire format shared with the server: an HS256 JWS
// whose claims carry the JSON payload plus the issue timestamp used for the
// replay check.
type envelope struct {
	Data json.RawMessage `json:"data"`
	jwt.RegisteredClaims
}

// Client is the HTTP implementation of Source.
type Client struct {
	baseURL string
	key     []byte
	maxAge  time.Duration
	http    *http.Client
	now     func() time.Time
}

// NewClient builds a payout server client. key signs outgoing requests and
// verifies responses; maxAge bounds how old a signed response may be.
func NewClient(baseURL string, key []byte, maxAge, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		maxAge:  maxAge,
		http:    &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

func (c *Client) sign(payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	claims := envelope{
		Data:             data,
		RegisteredClaims: jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(c.now())},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

func (c *Client) verify(token string, out any) error {
	var claims envelope
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if claims.IssuedAt == nil {
		return fmt.Errorf("%w: missing issue time", ErrBadEnvelope)
	}
	if c.now().Sub(claims.IssuedAt.Time) > c.maxAge {
		return ErrStaleResponse
	}
	return json.Unmarshal(claims.Data, out)
}

// post sends a signed payload to an RPC endpoint and verifies the signed
// response into out.
func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	token, err := c.sign(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc/"+endpoint, strings.NewReader(token))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("remote %s: read response: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote %s: unexpected status %d: %s", endpoint, resp.StatusCode, body)
	}
	if err := c.verify(strings.TrimSpace(string(body)), out); err != nil {
		return fmt.Errorf("remote %s: %w", endpoint, err)
	}
	return nil
}

type obligationsResponse struct {
	Result  bool         `json:"result"`
	Payouts []Obligation `json:"payouts"`
}

// FetchObligations returns the open payout obligations for a currency.
func (c *Client) FetchObligations(ctx context.Context, currency string) ([]Obligation, error) {
	var res obligationsResponse
	if err := c.post(ctx, "get_payouts", map[string]string{"currency": currency}, &res); err != nil {
		return nil, err
	}
	if !res.Result {
		return nil, fmt.Errorf("get_payouts: %w", ErrRejected)
	}
	return res.Payouts, nil
}

type unconfirmedResponse struct {
	Success bool `json:"success"`
	Objects []struct {
		TxID string       `json:"txid"`
		Fee  *json.Number `json:"fee"`
	} `json:"objects"`
}

// FetchUnconfirmed returns transactions the server has not yet marked final.
// This uses the public read-only API, so the response is plain JSON rather
// than a signed envelope.
func (c *Client) FetchUnconfirmed(ctx context.Context, currency string) ([]UnconfirmedTx, error) {
	query := url.Values{"confirmed": {"false"}, "currency": {currency}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/transaction?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote transactions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote transactions: unexpected status %d", resp.StatusCode)
	}

	var res unconfirmedResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("remote transactions: decode: %w", err)
	}
	if !res.Success {
		return nil, fmt.Errorf("remote transactions: %w", ErrRejected)
	}

	txs := make([]UnconfirmedTx, 0, len(res.Objects))
	for _, obj := range res.Objects {
		tx := UnconfirmedTx{TxID: obj.TxID}
		if obj.Fee != nil {
			fee, err := obj.Fee.Int64()
			if err != nil {
				return nil, fmt.Errorf("remote transactions: bad fee for %s: %w", obj.TxID, err)
			}
			tx.Fee = fee
			tx.HasFee = true
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

type resultResponse struct {
	Result bool `json:"result"`
}

// ConfirmTransactions pushes confirmed ids and observed fees in one batch.
func (c *Client) ConfirmTransactions(ctx context.Context, tids []string, fees map[string]int64) error {
	payload := map[string]any{"tids": tids, "fees": fees}
	var res resultResponse
	if err := c.post(ctx, "confirm_transactions", payload, &res); err != nil {
		return err
	}
	if !res.Result {
		return fmt.Errorf("confirm_transactions: %w", ErrRejected)
	}
	return nil
}

// AssociatePayouts reports which obligations a wallet transaction covered.
func (c *Client) AssociatePayouts(ctx context.Context, currency, txid string, externalIDs []string, fee int64, hasFee bool) error {
	payload := map[string]any{
		"currency":  currency,
		"coin_txid": txid,
		"pids":      externalIDs,
	}
	if hasFee {
		payload["tx_fee"] = fee
	}
	var res resultResponse
	if err := c.post(ctx, "associate_payouts", payload, &res); err != nil {
		return err
	}
	if !res.Result {
		return fmt.Errorf("associate_payouts: %w", ErrRejected)
	}
	return nil
}
