package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"
)

const requestTimeout = 30 * time.Second

// LedgerClient talks JSON over HTTP to the native ledger gateway.
type LedgerClient struct {
	base   string
	client *http.Client
}

func NewLedgerClient(base string) *LedgerClient {
	return &LedgerClient{base: base, client: &http.Client{Timeout: requestTimeout}}
}

func (c *LedgerClient) Transfer(ctx context.Context, req TransferRequest) (uint64, error) {
	var res struct {
		Height uint64 `json:"height"`
		Error  string `json:"error,omitempty"`
	}
	if err := postJSON(ctx, c.client, c.base+"/transfer", req, &res); err != nil {
		return 0, err
	}
	if res.Error != "" {
		return 0, fmt.Errorf("ledger transfer rejected: %s", res.Error)
	}
	return res.Height, nil
}

// MinterClient talks JSON over HTTP to one rail's minting service.
type MinterClient struct {
	base   string
	client *http.Client
}

func NewMinterClient(base string) *MinterClient {
	return &MinterClient{base: base, client: &http.Client{Timeout: requestTimeout}}
}

func (c *MinterClient) Retrieve(ctx context.Context, req RetrieveRequest) (string, error) {
	var res struct {
		Ref   string `json:"ref"`
		Error string `json:"error,omitempty"`
	}
	// Never retried here: a duplicate retrieve would double-burn. Failures
	// surface to the conversion state machine, which compensates.
	if err := postJSON(ctx, c.client, c.base+"/retrieve", req, &res); err != nil {
		return "", err
	}
	if res.Error != "" {
		return "", fmt.Errorf("minter retrieve rejected: %s", res.Error)
	}
	return res.Ref, nil
}

// GetDepositAddress is an idempotent read, so transient failures are retried
// with bounded backoff.
func (c *MinterClient) GetDepositAddress(ctx context.Context, account string) (string, error) {
	u := c.base + "/deposit_address?account=" + url.QueryEscape(account)
	var addr string
	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("minter returned %s", resp.Status))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("minter returned %s", resp.Status)
		}
		var res struct {
			Address string `json:"address"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return err
		}
		addr = res.Address
		return nil
	})
	return addr, err
}

func postJSON(ctx context.Context, client *http.Client, u string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("settlement service returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
