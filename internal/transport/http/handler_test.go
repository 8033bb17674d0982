package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasury/internal/model"
	"treasury/internal/settlement"
	"treasury/internal/treasury"
)

const testAdminToken = "seekrit"

func newTestServer(t *testing.T) (*httptest.Server, *treasury.Engine) {
	t.Helper()
	engine := treasury.New(treasury.Options{
		Ledger: &settlement.MockLedger{},
		Minters: map[model.Rail]settlement.Minter{
			model.RailCkBTC: &settlement.MockMinter{Prefix: "bc1q"},
			model.RailCkETH: &settlement.MockMinter{Prefix: "0x"},
		},
	})
	mux := http.NewServeMux()
	NewHandler(engine, nil, testAdminToken).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, engine
}

func doJSON(t *testing.T, method, url string, body any, token string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func registerTestOrg(t *testing.T, srv *httptest.Server, id string) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/orgs", map[string]any{
		"id": id,
		"config": model.OrgConfig{Rails: map[model.Rail]model.RailConfig{
			model.RailICP:   {Enabled: true},
			model.RailCkBTC: {Enabled: true},
		}},
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterAndVaultBalance(t *testing.T) {
	srv, _ := newTestServer(t)
	registerTestOrg(t, srv, "acme")

	resp := doJSON(t, http.MethodGet, srv.URL+"/orgs/acme/vault", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Org   string                `json:"org"`
		Vault map[model.Rail]uint64 `json:"vault"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "acme", body.Org)
	assert.Contains(t, body.Vault, model.RailICP)
}

func TestErrorTaxonomyMapsToStatusCodes(t *testing.T) {
	srv, _ := newTestServer(t)
	registerTestOrg(t, srv, "acme")

	// Validation errors are 400.
	resp := doJSON(t, http.MethodPost, srv.URL+"/withdrawals", model.WithdrawRequest{
		Org: "acme", Rail: model.RailICP, Amount: 0, Destination: "dst",
	}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Insufficient balance is 422.
	resp = doJSON(t, http.MethodPost, srv.URL+"/withdrawals", model.WithdrawRequest{
		Org: "acme", Rail: model.RailICP, Amount: 10, Destination: "dst",
	}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Unknown org is an invariant violation, 500.
	resp = doJSON(t, http.MethodGet, srv.URL+"/orgs/ghost/vault", nil, "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAdminSurfaceRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t)
	registerTestOrg(t, srv, "acme")

	resp := doJSON(t, http.MethodPost, srv.URL+"/orgs/acme/archive", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/orgs/acme/archive", nil, "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/orgs/acme/archive", nil, testAdminToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminSurfaceClosedWithoutConfiguredToken(t *testing.T) {
	engine := treasury.New(treasury.Options{})
	mux := http.NewServeMux()
	NewHandler(engine, nil, "").Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	resp := doJSON(t, http.MethodGet, srv.URL+"/factory/vault", nil, "any-token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWithdrawalAndConversionListing(t *testing.T) {
	srv, engine := newTestServer(t)
	registerTestOrg(t, srv, "acme")

	// Seed the vault through the deposit bridge.
	resp := doJSON(t, http.MethodPost, srv.URL+"/deposits", model.Deposit{
		Org: "acme", Rail: model.RailCkBTC, Amount: 100, TxRef: "tx-1",
	}, testAdminToken)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = doJSON(t, http.MethodPost, srv.URL+"/orgs/acme/deposits/reconcile", nil, testAdminToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/withdrawals", model.WithdrawRequest{
		Org: "acme", Rail: model.RailCkBTC, Amount: 25, Destination: "bc1qdst",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res model.WithdrawResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, model.IntentCompleted, res.Status)
	assert.NotEmpty(t, res.IntentID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/orgs/acme/conversions", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Conversions []model.ConversionIntent `json:"conversions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Conversions, 1)

	vault, err := engine.VaultBalance(t.Context(), "acme")
	require.NoError(t, err)
	assert.Equal(t, uint64(75), vault[model.RailCkBTC])
}

func TestDepositAddressEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	registerTestOrg(t, srv, "acme")

	resp := doJSON(t, http.MethodPost, srv.URL+"/deposit-addresses", map[string]string{
		"org": "acme", "user": "alice", "rail": "ckBTC",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Address string `json:"address"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Address)

	again := doJSON(t, http.MethodPost, srv.URL+"/deposit-addresses", map[string]string{
		"org": "acme", "user": "alice", "rail": "ckBTC",
	}, "")
	var body2 struct {
		Address string `json:"address"`
	}
	require.NoError(t, json.NewDecoder(again.Body).Decode(&body2))
	assert.Equal(t, body.Address, body2.Address)
}

func TestSetRailPriceValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPut, srv.URL+"/rails/DOGE/price", map[string]string{"price": "1"}, testAdminToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodPut, srv.URL+"/rails/ckBTC/price", map[string]string{"price": "60000"}, testAdminToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
