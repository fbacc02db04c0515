package venues

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/depthsim/internal/config"
)

func binanceAdapter() *Binance {
	return NewBinance(config.Venue{
		Name:       "binance",
		Depth:      20,
		UpdateRate: "100ms",
		SymbolMap:  map[string]string{"BTC-USD": "BTCUSDT"},
	})
}

func TestBinanceClassifyBareDepthPayload(t *testing.T) {
	raw := []byte(`{
		"lastUpdateId": 160,
		"bids": [["67000.10","1.5"],["66999.00","2"]],
		"asks": [["67001.00","0.5"]]
	}`)

	msg := binanceAdapter().Classify(raw)
	require.Equal(t, KindBookUpdate, msg.Kind)
	require.NotNil(t, msg.Update)

	assert.Empty(t, msg.Update.Instrument)
	assert.Equal(t, UpdateSnapshot, msg.Update.Kind)
	assert.Equal(t, int64(160), msg.Update.Sequence)
	require.Len(t, msg.Update.Bids, 2)
	require.Len(t, msg.Update.Asks, 1)
	assert.True(t, msg.Update.Bids[0].Price.Equal(decimal.RequireFromString("67000.10")))
}

func TestBinanceClassifyCombinedStreamWrapper(t *testing.T) {
	raw := []byte(`{
		"stream": "btcusdt@depth20@100ms",
		"data": {"lastUpdateId": 7, "bids": [["100","1"]], "asks": [["101","1"]]}
	}`)

	msg := binanceAdapter().Classify(raw)
	require.Equal(t, KindBookUpdate, msg.Kind)
	assert.Equal(t, "BTCUSDT", msg.Update.Instrument)
	assert.Equal(t, UpdateSnapshot, msg.Update.Kind)
}

func TestBinanceClassifySubscriptionAck(t *testing.T) {
	msg := binanceAdapter().Classify([]byte(`{"result":null,"id":1}`))
	assert.Equal(t, KindSubscriptionAck, msg.Kind)
}

func TestBinanceClassifyError(t *testing.T) {
	msg := binanceAdapter().Classify([]byte(`{"error":{"code":2,"msg":"Invalid request"},"id":1}`))
	assert.Equal(t, KindVenueError, msg.Kind)
	assert.Contains(t, msg.Reason, "Invalid request")
}

func TestBinanceClassifyMalformed(t *testing.T) {
	msg := binanceAdapter().Classify([]byte(`{not json`))
	assert.Equal(t, KindParseError, msg.Kind)
}

func TestBinanceClassifyIgnoresOtherStreams(t *testing.T) {
	msg := binanceAdapter().Classify([]byte(`{"stream":"btcusdt@trade","data":{}}`))
	assert.Equal(t, KindIgnore, msg.Kind)
}

func TestBinanceSnapshotsDropZeroQuantities(t *testing.T) {
	raw := []byte(`{"lastUpdateId": 2, "bids": [["100","0"],["99","1"]], "asks": [["101","1"]]}`)
	msg := binanceAdapter().Classify(raw)
	require.Equal(t, KindBookUpdate, msg.Kind)
	require.Len(t, msg.Update.Bids, 1)
	assert.True(t, msg.Update.Bids[0].Price.Equal(decimal.RequireFromString("99")))
}

func TestBinanceBuildSubscribe(t *testing.T) {
	b := binanceAdapter()
	payload, err := b.BuildSubscribe("BTCUSDT")
	require.NoError(t, err)

	var req binanceRequest
	require.NoError(t, json.Unmarshal(payload, &req))
	assert.Equal(t, "SUBSCRIBE", req.Method)
	assert.Equal(t, []string{"btcusdt@depth20@100ms"}, req.Params)
	assert.Equal(t, int64(1), req.ID)

	// Request ids increment across requests.
	payload, err = b.BuildUnsubscribe("BTCUSDT")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, &req))
	assert.Equal(t, "UNSUBSCRIBE", req.Method)
	assert.Equal(t, int64(2), req.ID)
}

func TestBinanceConcurrentRequestIDsUnique(t *testing.T) {
	b := binanceAdapter()

	const workers, perWorker = 8, 50
	ids := make(chan int64, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				payload, err := b.BuildSubscribe("BTCUSDT")
				if err != nil {
					t.Error(err)
					return
				}
				var req binanceRequest
				if err := json.Unmarshal(payload, &req); err != nil {
					t.Error(err)
					return
				}
				ids <- req.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool, workers*perWorker)
	for id := range ids {
		assert.False(t, seen[id], "duplicate request id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestBinanceNoHandshakeOrKeepalive(t *testing.T) {
	b := binanceAdapter()
	_, ok := b.HandshakeRequest()
	assert.False(t, ok)
	_, ok = b.KeepalivePayload()
	assert.False(t, ok)
	_, ok = b.HeartbeatReply(Message{Kind: KindHeartbeat})
	assert.False(t, ok)
}

func TestBinanceSymbolMapping(t *testing.T) {
	b := binanceAdapter()
	assert.Equal(t, "BTCUSDT", b.NativeSymbol("BTC-USD"))
	assert.Equal(t, "BTC-USD", b.DisplaySymbol("BTCUSDT"))
	// Unknown symbols pass through.
	assert.Equal(t, "XYZ", b.NativeSymbol("XYZ"))
}
