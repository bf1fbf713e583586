package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// RPCError is a structured error returned by the node itself, as opposed to a
// transport failure reaching it.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("node rpc error %d: %s", e.Code, e.Message)
}

// Client talks to a bitcoind-style node over HTTP JSON-RPC with basic auth.
type Client struct {
	url      string
	username string
	password string
	account  string
	http     *http.Client
}

// NewClient builds a node RPC client. The timeout bounds every call; there is
// no per-call cancellation beyond it.
func NewClient(url, username, password, account string, timeout time.Duration) *Client {
	return &Client{
		url:      url,
		username: username,
		password: password,
		account:  account,
		http:     &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	Version string            `json:"jsonrpc"`
	ID      int64             `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []json.RawMessage, result any) error {
	body, err := json.Marshal(rpcRequest{Version: "1.0", ID: time.Now().UnixNano(), Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("node rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("node rpc %s: read response: %w", method, err)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("node rpc %s: decode response: %w", method, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("node rpc %s: %w", method, decoded.Error)
	}
	if result != nil {
		if err := json.Unmarshal(decoded.Result, result); err != nil {
			return fmt.Errorf("node rpc %s: decode result: %w", method, err)
		}
	}
	return nil
}

// Ping issues getinfo to verify the node is awake.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "getinfo", nil, nil)
}

// Balance returns the spendable wallet balance in minor units.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	var raw json.Number
	if err := c.call(ctx, "getbalance", nil, &raw); err != nil {
		return 0, err
	}
	return ParseAmount(raw.String())
}

type rpcTransaction struct {
	Confirmations int64        `json:"confirmations"`
	Fee           *json.Number `json:"fee"`
}

// Transaction looks up a wallet transaction by id.
func (c *Client) Transaction(ctx context.Context, txid string) (TxInfo, error) {
	param, err := json.Marshal(txid)
	if err != nil {
		return TxInfo{}, err
	}
	var tx rpcTransaction
	if err := c.call(ctx, "gettransaction", []json.RawMessage{param}, &tx); err != nil {
		return TxInfo{}, err
	}
	info := TxInfo{TxID: txid, Confirmations: tx.Confirmations}
	if tx.Fee != nil {
		fee, err := ParseAmount(tx.Fee.String())
		if err != nil {
			return TxInfo{}, fmt.Errorf("transaction %s: bad fee value: %w", txid, err)
		}
		// The node reports fees as negative debits.
		if fee < 0 {
			fee = -fee
		}
		info.Fee = fee
		info.HasFee = true
	}
	return info, nil
}

// SendMany pays every beneficiary in one node transaction. Amounts are
// rendered as exact decimal strings so no precision is lost on the wire.
func (c *Client) SendMany(ctx context.Context, amounts map[string]int64) (string, error) {
	if len(amounts) == 0 {
		return "", fmt.Errorf("sendmany requires at least one recipient")
	}

	beneficiaries := make([]string, 0, len(amounts))
	for beneficiary := range amounts {
		beneficiaries = append(beneficiaries, beneficiary)
	}
	sort.Strings(beneficiaries)

	var recipients bytes.Buffer
	recipients.WriteByte('{')
	for i, beneficiary := range beneficiaries {
		if i > 0 {
			recipients.WriteByte(',')
		}
		key, err := json.Marshal(beneficiary)
		if err != nil {
			return "", err
		}
		recipients.Write(key)
		recipients.WriteByte(':')
		recipients.WriteString(FormatAmount(amounts[beneficiary]))
	}
	recipients.WriteByte('}')

	account, err := json.Marshal(c.account)
	if err != nil {
		return "", err
	}

	var txid string
	if err := c.call(ctx, "sendmany", []json.RawMessage{account, recipients.Bytes()}, &txid); err != nil {
		return "", err
	}
	return txid, nil
}

// SetFee configures the transaction fee for subsequent sends.
func (c *Client) SetFee(ctx context.Context, fee int64) error {
	return c.call(ctx, "settxfee", []json.RawMessage{json.RawMessage(FormatAmount(fee))}, nil)
}

// Unlock decrypts the wallet for the given number of seconds.
func (c *Client) Unlock(ctx context.Context, passphrase string, seconds int) error {
	pass, err := json.Marshal(passphrase)
	if err != nil {
		return err
	}
	dur, err := json.Marshal(seconds)
	if err != nil {
		return err
	}
	return c.call(ctx, "walletpassphrase", []json.RawMessage{pass, dur}, nil)
}
