package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/wager-integrity-core/internal/circuitbreaker"
	"github.com/radieske/wager-integrity-core/internal/clock"
)

func TestHTTPRail_Submit(t *testing.T) {
	var gotKey string
	var gotReq RailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transfers", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		if gotReq.Destination.BankCode == "999" {
			http.Error(w, "bank offline", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","transaction_ref":"TRX-1","processing_time_ms":340}`))
	}))
	defer srv.Close()

	rail := NewHTTPRail("standard", srv.URL+"/", srv.Client(), nil)
	res, err := rail.Submit(context.Background(), RailRequest{
		PayoutID:    "p-1",
		Amount:      dec("150.00"),
		Currency:    "NGN",
		Destination: Destination{BankCode: "011", AccountNumber: "0001", AccountName: "A B"},
	})
	require.NoError(t, err)
	assert.Equal(t, "TRX-1", res.TransactionRef)
	assert.Equal(t, 340*time.Millisecond, res.ProcessingTime)
	assert.Equal(t, "p-1", gotKey)
	assert.True(t, dec("150").Equal(gotReq.Amount))

	_, err = rail.Submit(context.Background(), RailRequest{PayoutID: "p-2", Destination: Destination{BankCode: "999"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestHTTPRail_RejectsNonSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"declined","message":"account closed"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPRail("standard", srv.URL, nil, nil).Submit(context.Background(), RailRequest{PayoutID: "p-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account closed")
}

func TestHTTPRail_MeasuresWithClockAuthority(t *testing.T) {
	m := clock.NewManual(time.Date(2024, 10, 2, 11, 0, 0, 0, time.UTC))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Advance(1500 * time.Millisecond)
		_, _ = w.Write([]byte(`{"status":"success","transaction_ref":"TRX-2"}`))
	}))
	defer srv.Close()

	rail := NewHTTPRail("standard", srv.URL, srv.Client(), clock.New(clock.WithSource(m.Now)))
	res, err := rail.Submit(context.Background(), RailRequest{PayoutID: "p-1", Amount: dec("10")})
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, res.ProcessingTime)
}

func TestRouter_SelectAndBreaker(t *testing.T) {
	now := time.Date(2024, 10, 2, 11, 0, 0, 0, time.UTC)
	failing := &fakeRail{name: "standard", fn: func(ctx context.Context, req RailRequest) (RailResult, error) {
		return RailResult{}, errors.New("boom")
	}}
	instant := &fakeRail{name: "instant"}
	br := circuitbreaker.New(2, time.Minute, circuitbreaker.WithClock(func() time.Time { return now }))
	r := NewRouter(RouterConfig{DefaultRail: "standard", FastRail: "instant", FastBankCodes: []string{"058", "044"}}, br, failing, instant)

	assert.Equal(t, "instant", r.Select("044"))
	assert.Equal(t, "standard", r.Select("011"))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := r.Submit(ctx, "standard", RailRequest{PayoutID: "p-000000001"})
		require.ErrorIs(t, err, ErrRailFailure)
	}
	_, err := r.Submit(ctx, "standard", RailRequest{PayoutID: "p-000000001"})
	require.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, 2, failing.count())

	// breaker é por trilho
	_, err = r.Submit(ctx, "instant", RailRequest{PayoutID: "p-000000002"})
	require.NoError(t, err)

	_, err = r.Submit(ctx, "nope", RailRequest{PayoutID: "p-000000003"})
	assert.ErrorIs(t, err, ErrUnknownRail)
}
