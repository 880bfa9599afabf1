package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// StacksClient is the concrete ReadClient hitting a Hiro-compatible Stacks
// API, grounded in structure (not domain) on
// pkg/pricefeed/coingecko.go's fetchPrice: URL building, JSON decode into a
// loosely-typed response, status-code branching.
type StacksClient struct {
	apiURL  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewStacksClient(apiURL string) *StacksClient {
	return &StacksClient{
		apiURL: apiURL,
		client: &http.Client{Timeout: 12 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "stacks-api",
			MaxRequests: 2,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		}),
	}
}

type stacksTxResponse struct {
	TxID          string `json:"tx_id"`
	TxStatus      string `json:"tx_status"`
	BlockHeight   *int64 `json:"block_height"`
	SenderAddress string `json:"sender_address"`
	TxType        string `json:"tx_type"`
	TokenTransfer *struct {
		RecipientAddress string `json:"recipient_address"`
		Amount           string `json:"amount"`
		Memo             string `json:"memo_hex"`
	} `json:"token_transfer"`
	ContractCall *struct {
		FunctionName string   `json:"function_name"`
		FunctionArgs []string `json:"function_args"`
	} `json:"contract_call"`
	Events []stacksEvent `json:"events"`
}

type stacksEvent struct {
	EventType string `json:"event_type"`
	Asset     *struct {
		AssetID   string `json:"asset_id"`
		Recipient string `json:"recipient"`
		Amount    string `json:"amount"`
	} `json:"asset"`
}

func (c *StacksClient) GetAddressTransactions(ctx context.Context, address string, limit, offset int) ([]Tx, error) {
	url := fmt.Sprintf("%s/extended/v1/address/%s/transactions?limit=%d&offset=%d", c.apiURL, address, limit, offset)
	var body struct {
		Results []stacksTxResponse `json:"results"`
	}
	if err := c.getJSON(ctx, url, &body); err != nil {
		return nil, err
	}
	out := make([]Tx, 0, len(body.Results))
	for _, r := range body.Results {
		out = append(out, convertTx(r))
	}
	return out, nil
}

func (c *StacksClient) GetTxByID(ctx context.Context, txID string) (*Tx, error) {
	url := fmt.Sprintf("%s/extended/v1/tx/%s", c.apiURL, txID)
	var r stacksTxResponse
	if err := c.getJSON(ctx, url, &r); err != nil {
		return nil, err
	}
	tx := convertTx(r)
	return &tx, nil
}

func (c *StacksClient) getJSON(ctx context.Context, url string, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("stacks api status %d: %s", resp.StatusCode, string(body))
		}
		return nil, json.Unmarshal(body, out)
	})
	return err
}

// ErrNotFound marks a 404 from the Stacks API, relevant to C7's watcher
// loop ("pending or 404: keep polling").
var ErrNotFound = fmt.Errorf("chain transaction not found")

func convertTx(r stacksTxResponse) Tx {
	tx := Tx{
		TxID:          r.TxID,
		Status:        TxStatus(r.TxStatus),
		BlockHeight:   r.BlockHeight,
		SenderAddress: r.SenderAddress,
	}

	if r.TxType == "token_transfer" && r.TokenTransfer != nil {
		amount, _ := decimal.NewFromString(r.TokenTransfer.Amount)
		tx.NativeTransfer = &NativeTransfer{
			Recipient: r.TokenTransfer.RecipientAddress,
			Amount:    amount.Div(decimal.NewFromInt(1_000_000)),
			Memo:      DecodeMemo(r.TokenTransfer.Memo),
		}
	}

	if r.TxType == "contract_call" && r.ContractCall != nil {
		cc := &ContractCall{
			FunctionName: r.ContractCall.FunctionName,
			Args:         r.ContractCall.FunctionArgs,
		}
		for _, ev := range r.Events {
			if ev.EventType != "fungible_token_asset" || ev.Asset == nil {
				continue
			}
			amt, _ := decimal.NewFromString(ev.Asset.Amount)
			cc.Events = append(cc.Events, FungibleTokenEvent{
				AssetID:   ev.Asset.AssetID,
				Recipient: ev.Asset.Recipient,
				Amount:    amt,
			})
		}
		tx.ContractCall = cc
	}

	return tx
}
