package quote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const aaplCSV = "Symbol,Date,Time,Open,High,Low,Close,Volume\r\nAAPL.US,2025-01-10,22:00:10,240.01,240.16,233,236.85,61710856\r\n"

func TestParseCSV(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		q, err := parseCSV(aaplCSV)
		require.NoError(t, err)
		assert.Equal(t, "AAPL.US", q.Symbol)
		assert.Equal(t, "2025-01-10", q.Date)
		assert.Equal(t, "236.85", q.Close.String())
		assert.Equal(t, int64(61710856), q.Volume)
	})

	t.Run("no data", func(t *testing.T) {
		_, err := parseCSV("Symbol,Date,Time,Open,High,Low,Close,Volume\nXYZ.US,N/D,N/D,N/D,N/D,N/D,N/D,N/D\n")
		assert.ErrorIs(t, err, ErrNoData)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, body := range []string{"", "Symbol", "h\nAAPL.US,2025-01-10", "h\nA,d,t,x,1,1,1,1"} {
			_, err := parseCSV(body)
			assert.ErrorIs(t, err, ErrBadResponse, body)
		}
	})
}

func TestStooqClient_Quote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/q/l/", r.URL.Path)
		assert.Equal(t, "aapl.us", r.URL.Query().Get("s"))
		assert.Equal(t, "sd2t2ohlcv", r.URL.Query().Get("f"))
		assert.Equal(t, "csv", r.URL.Query().Get("e"))
		_, _ = w.Write([]byte(aaplCSV))
	}))
	defer srv.Close()

	c := NewStooqClient(srv.URL, 0, nil)
	price, err := c.Price(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "236.85", price.String())
}

func TestStooqClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewStooqClient(srv.URL, 0, nil)
	_, err := c.Quote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestStooqClient_Throttle(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(aaplCSV))
	}))
	defer srv.Close()

	c := NewStooqClient(srv.URL, time.Hour, nil)
	_, err := c.Quote(context.Background(), "AAPL")
	require.NoError(t, err)

	// The second call would have to wait an hour.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Quote(ctx, "AAPL")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
