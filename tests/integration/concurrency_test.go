package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConcurrentCallbacks_NeverOverdrawPool fires many wallet callbacks
// at once against a pool that can only cover a few of them. The
// reservation lock must let exactly as many through as the pool holds.
func TestConcurrentCallbacks_NeverOverdrawPool(t *testing.T) {
	app := newTestApp(t)
	locationID := seedLocation(t, app, "Contested Cache", 100_000_000, 50_000_000)
	keys := provisionCard(t, app, locationID)

	const attempts = 10

	// Mint the challenges sequentially; tap counters must be monotonic.
	k1s := make([]string, 0, attempts)
	for i := 1; i <= attempts; i++ {
		status, body := firstLeg(t, app, keys, uint32(i))
		require.Equal(t, http.StatusOK, status, string(body))
		var leg lnurlFirstLeg
		require.NoError(t, json.Unmarshal(body, &leg))
		require.NotEmpty(t, leg.K1)
		k1s = append(k1s, leg.K1)
	}

	// Race the callbacks. Each asks for 21,000,000 msat with its own
	// invoice, so only two fit in the 50,000,000 msat pool.
	var wg sync.WaitGroup
	var okCount, errCount atomic.Int64
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			invoice := fmt.Sprintf("lnbc210u1q%c", 'a'+rune(i))
			resp, err := http.Get(app.url(fmt.Sprintf("/api/v1/lnurlw/callback?k1=%s&pr=%s", k1s[i], invoice)))
			if err != nil {
				errCount.Add(1)
				return
			}
			defer resp.Body.Close()
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				errCount.Add(1)
				return
			}

			var out lnurlStatus
			if json.Unmarshal(data, &out) == nil && out.Status == "OK" {
				okCount.Add(1)
			} else {
				errCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	t.Logf("Concurrent callbacks: %d paid, %d rejected (out of %d)", okCount.Load(), errCount.Load(), attempts)

	assert.Equal(t, int64(attempts), okCount.Load()+errCount.Load(), "all callbacks should complete")
	assert.Equal(t, int64(2), okCount.Load())

	stats := fetchStats(t, app, locationID)
	assert.Equal(t, int64(8_000_000), stats.PoolBalanceMsat)
	assert.Equal(t, int64(2), stats.ClaimCount)
	assert.Equal(t, int64(42_000_000), stats.ClaimedMsat)
}

// TestConcurrentWalletWithdrawals_NeverOverdrawBalance races several
// custodial withdrawals against a balance that covers only one of them.
func TestConcurrentWalletWithdrawals_NeverOverdrawBalance(t *testing.T) {
	app := newTestApp(t)
	locationID := seedLocation(t, app, "Funding Spot", 100_000_000, 10_000_000)
	keys := provisionCard(t, app, locationID)
	token := registerAndLogin(t, app, "racer", "a-long-enough-password")
	auth := map[string]string{"Authorization": "Bearer " + token}

	picc, mac := forgeTap(t, keys, 1)
	status, body := doRequest(t, http.MethodPost, app.url("/api/v1/wallet/collect"), map[string]string{
		"card_id": keys.cardID.String(),
		"p":       picc,
		"c":       mac,
	}, auth)
	require.Equal(t, http.StatusOK, status, string(body))

	// Five concurrent 9,000,000 msat withdrawals against a 10,000,000
	// msat balance.
	const attempts = 5
	var wg sync.WaitGroup
	var okCount, errCount atomic.Int64
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			payload := fmt.Sprintf(`{"invoice":"lnbc90u1q%c"}`, 'a'+rune(i))
			req, err := http.NewRequest(http.MethodPost, app.url("/api/v1/wallet/withdraw"),
				bytes.NewBufferString(payload))
			if err != nil {
				errCount.Add(1)
				return
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+token)

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				errCount.Add(1)
				return
			}
			defer resp.Body.Close()
			_, _ = io.ReadAll(resp.Body)

			if resp.StatusCode == http.StatusOK {
				okCount.Add(1)
			} else {
				errCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	t.Logf("Concurrent withdrawals: %d paid, %d rejected (out of %d)", okCount.Load(), errCount.Load(), attempts)

	assert.Equal(t, int64(attempts), okCount.Load()+errCount.Load(), "all withdrawals should complete")
	assert.Equal(t, int64(1), okCount.Load())

	st, respBody := doRequest(t, http.MethodGet, app.url("/api/v1/wallet/balance"), nil, auth)
	require.Equal(t, http.StatusOK, st)
	var balance struct {
		BalanceMsat int64 `json:"balance_msat"`
	}
	envelopeData(t, respBody, &balance)
	assert.Equal(t, int64(1_000_000), balance.BalanceMsat)
}
