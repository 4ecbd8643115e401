package ledgerrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Send statuses reported by the node for tx_send.
const (
	SendStatusPending       = "PENDING"
	SendStatusDuplicate     = "DUPLICATE"
	SendStatusTryAgainLater = "TRY_AGAIN_LATER"
	SendStatusError         = "ERROR"
)

// Transaction statuses reported by the node for tx_get. NOT_FOUND is a
// normal transient state while the transaction awaits inclusion.
const (
	TxStatusNotFound = "NOT_FOUND"
	TxStatusSuccess  = "SUCCESS"
	TxStatusFailed   = "FAILED"
)

// TransportError wraps any failure to reach the node or to decode its
// response. Callers may retry with backoff; the underlying cause is
// available through Unwrap.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ledger rpc %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportErr(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// Account mirrors the account_get result.
type Account struct {
	Address  string `json:"address"`
	Sequence uint64 `json:"sequence"`
}

// SimulationResult mirrors the tx_simulate result. A non-empty Error means
// the node evaluated the invocation and rejected it; transport problems
// never reach this struct.
type SimulationResult struct {
	Error           string   `json:"error,omitempty"`
	MinResourceFee  uint64   `json:"minResourceFee"`
	TransactionData string   `json:"transactionData,omitempty"`
	AuthEntries     []string `json:"authEntries,omitempty"`
	LatestLedger    uint64   `json:"latestLedger"`
}

// SendResult mirrors the tx_send result.
type SendResult struct {
	Status       string `json:"status"`
	Hash         string `json:"hash"`
	ErrorDetail  string `json:"errorDetail,omitempty"`
	LatestLedger uint64 `json:"latestLedger"`
}

// TransactionStatus mirrors the tx_get result.
type TransactionStatus struct {
	Status      string `json:"status"`
	Ledger      uint64 `json:"ledger,omitempty"`
	CreatedAt   int64  `json:"createdAt,omitempty"`
	ErrorDetail string `json:"errorDetail,omitempty"`
}

// Event is one contract event the node observed in a closed ledger.
type Event struct {
	ID       string   `json:"id,omitempty"`
	Ledger   uint64   `json:"ledger"`
	ClosedAt int64    `json:"closedAt,omitempty"`
	Contract string   `json:"contractId"`
	Topics   []string `json:"topics"`
	Value    string   `json:"value,omitempty"`
	TxHash   string   `json:"txHash,omitempty"`
}

// EventQuery filters events_since.
type EventQuery struct {
	StartLedger uint64
	Contracts   []string
	Limit       int
}

// EventsResult mirrors the events_since result. LatestLedger is the
// network tip at query time, reported even when Events is empty.
type EventsResult struct {
	Events       []Event `json:"events"`
	LatestLedger uint64  `json:"latestLedger"`
}

// Client exposes the node RPC surface the relay depends on.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

// New constructs a JSON-RPC client for the node at baseURL. authToken is
// optional; when set it is sent as a bearer token.
func New(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetLatestSequenceNumber returns the sequence of the most recently closed
// ledger.
func (c *Client) GetLatestSequenceNumber(ctx context.Context) (uint64, error) {
	var result struct {
		Sequence uint64 `json:"sequence"`
	}
	if err := c.call(ctx, "ledger_latestSequence", nil, &result); err != nil {
		return 0, err
	}
	return result.Sequence, nil
}

// GetAccount loads the on-ledger account record for a G... address.
func (c *Client) GetAccount(ctx context.Context, address string) (*Account, error) {
	var result Account
	params := []interface{}{map[string]string{"address": address}}
	if err := c.call(ctx, "account_get", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Simulate dry-runs a base64 envelope against the node. The returned
// result carries either the resource data or a simulation-level error.
func (c *Client) Simulate(ctx context.Context, envelope string) (*SimulationResult, error) {
	var result SimulationResult
	params := []interface{}{map[string]string{"envelope": envelope}}
	if err := c.call(ctx, "tx_simulate", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendTransaction submits a fully-signed base64 envelope for inclusion.
func (c *Client) SendTransaction(ctx context.Context, envelope string) (*SendResult, error) {
	var result SendResult
	params := []interface{}{map[string]string{"envelope": envelope}}
	if err := c.call(ctx, "tx_send", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTransaction reports the inclusion status of a previously submitted
// transaction hash.
func (c *Client) GetTransaction(ctx context.Context, hash string) (*TransactionStatus, error) {
	var result TransactionStatus
	params := []interface{}{map[string]string{"hash": hash}}
	if err := c.call(ctx, "tx_get", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetEvents fetches contract events at or after query.StartLedger,
// filtered to the given contract identities.
func (c *Client) GetEvents(ctx context.Context, query EventQuery) (*EventsResult, error) {
	payload := map[string]interface{}{
		"startLedger": query.StartLedger,
	}
	if len(query.Contracts) > 0 {
		payload["contracts"] = query.Contracts
	}
	if query.Limit > 0 {
		payload["limit"] = query.Limit
	}
	var result EventsResult
	if err := c.call(ctx, "events_since", []interface{}{payload}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	bodyStruct := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}
	buf, err := json.Marshal(bodyStruct)
	if err != nil {
		return transportErr(method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return transportErr(method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return transportErr(method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return transportErr(method, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body)))
	}
	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return transportErr(method, err)
	}
	if rpcResp.Error != nil {
		return transportErr(method, fmt.Errorf("node error: %s", rpcResp.Error.Message))
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return transportErr(method, errors.New("empty result"))
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return transportErr(method, err)
	}
	return nil
}
