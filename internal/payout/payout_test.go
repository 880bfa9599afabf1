package payout

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDoer struct {
	responses map[string]*httpResponse
	calls     []string
}

func (f *fakeDoer) Do(req *httpRequest) (*httpResponse, error) {
	f.calls = append(f.calls, req.method+" "+req.path)
	if resp, ok := f.responses[req.method+" "+req.path]; ok {
		return resp, nil
	}
	return &httpResponse{StatusCode: 404, Body: []byte(`{"message":"not found"}`)}, nil
}

func jsonBody(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func newTestProvider(doer *fakeDoer) *LencoProvider {
	p := NewLencoProvider(Config{WebhookSecret: "s3cret"}, zerolog.Nop())
	p.client = doer
	return p
}

func TestListBanks_SortsFintechFirst(t *testing.T) {
	doer := &fakeDoer{responses: map[string]*httpResponse{
		"GET /banks": {StatusCode: 200, Body: jsonBody([]Bank{
			{Code: "000001", Name: "Zenith"},
			{Code: "100033", Name: "Opay"},
			{Code: "000002", Name: "GTB"},
			{Code: "090267", Name: "Kuda"},
		})},
	}}
	p := newTestProvider(doer)

	banks, err := p.ListBanks(context.Background())
	require.NoError(t, err)
	require.Len(t, banks, 4)
	assert.Equal(t, "090267", banks[0].Code)
	assert.Equal(t, "100033", banks[1].Code)
}

func TestListBanks_CachedWithinWindow(t *testing.T) {
	doer := &fakeDoer{responses: map[string]*httpResponse{
		"GET /banks": {StatusCode: 200, Body: jsonBody([]Bank{{Code: "000001", Name: "Zenith"}})},
	}}
	p := newTestProvider(doer)

	_, err := p.ListBanks(context.Background())
	require.NoError(t, err)
	_, err = p.ListBanks(context.Background())
	require.NoError(t, err)

	count := 0
	for _, c := range doer.calls {
		if c == "GET /banks" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestInitiateTransfer_InvalidatesBalanceCacheOnSuccess(t *testing.T) {
	doer := &fakeDoer{responses: map[string]*httpResponse{
		"GET /accounts/balance": {StatusCode: 200, Body: jsonBody(map[string]int64{"balanceKobo": 2000000})},
		"POST /transfers":       {StatusCode: 200, Body: jsonBody(TransferResult{TransferID: "t1", Status: "processing"})},
	}}
	p := newTestProvider(doer)

	_, known, err := p.GetAccountBalance(context.Background())
	require.NoError(t, err)
	require.True(t, known)
	require.True(t, p.balanceKnown)

	_, err = p.InitiateTransfer(context.Background(), 18000, "000001", "1234567890", "SSWAP_OFFRAMP_X")
	require.NoError(t, err)
	assert.False(t, p.balanceKnown)
}

func TestInitiateTransfer_NonSuccessIsPayoutFailed(t *testing.T) {
	doer := &fakeDoer{responses: map[string]*httpResponse{
		"POST /transfers": {StatusCode: 500, Body: []byte(`{"message":"insufficient provider balance"}`)},
	}}
	p := newTestProvider(doer)

	_, err := p.InitiateTransfer(context.Background(), 18000, "000001", "1234567890", "SSWAP_OFFRAMP_X")
	require.Error(t, err)
}

func TestVerifyWebhookSignature_ConstantTimeMatch(t *testing.T) {
	doer := &fakeDoer{responses: map[string]*httpResponse{}}
	p := newTestProvider(doer)

	body := []byte(`{"event":"transfer.completed"}`)
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, p.VerifyWebhookSignature(body, sig))
	assert.False(t, p.VerifyWebhookSignature(body, "deadbeef"))
}
