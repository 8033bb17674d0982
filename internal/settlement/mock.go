package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// MockLedger is an in-memory Ledger for tests. Set Err to force failures.
type MockLedger struct {
	mu        sync.Mutex
	Err       error
	height    uint64
	Transfers []TransferRequest
}

func (m *MockLedger) Transfer(ctx context.Context, req TransferRequest) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	m.height++
	m.Transfers = append(m.Transfers, req)
	return m.height, nil
}

// MockMinter is an in-memory Minter. Addresses derive deterministically from
// the account string, matching the real services' behavior.
type MockMinter struct {
	mu         sync.Mutex
	Prefix     string
	Err        error
	Retrievals []RetrieveRequest
}

func (m *MockMinter) Retrieve(ctx context.Context, req RetrieveRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Retrievals = append(m.Retrievals, req)
	return fmt.Sprintf("%s-ref-%d", m.Prefix, len(m.Retrievals)), nil
}

func (m *MockMinter) GetDepositAddress(ctx context.Context, account string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	sum := sha256.Sum256([]byte(m.Prefix + "/" + account))
	return m.Prefix + hex.EncodeToString(sum[:20]), nil
}
