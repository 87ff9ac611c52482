package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	inet "github.com/guseggert/replrelay/internal/net"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestClientSend(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq CommandRequest
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		b, err := io.ReadAll(r.Body)
		if err == nil {
			err = json.Unmarshal(b, &gotReq)
		}
		if err != nil || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s.Close)

	client, err := NewClient(s.URL+"/", testToken, WithClientLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	err = client.Send(context.Background(), "Living Room", []string{"wait 100", "play"})
	require.NoError(t, err)

	assert.Equal(t, "/Living%20Room", gotPath)
	assert.Equal(t, testToken, gotAuth)
	assert.Equal(t, []string{"wait 100", "play"}, gotReq.Commands)
}

func TestClientStatusErrorsAreNotRetried(t *testing.T) {
	var hits int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}))
	t.Cleanup(s.Close)

	client, err := NewClient(s.URL, testToken)
	require.NoError(t, err)

	err = client.Send(context.Background(), "Bedroom", []string{"play"})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.Equal(t, "Internal Server Error", statusErr.Body)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestClientAgainstRelay(t *testing.T) {
	dir := t.TempDir()
	r := newTestRelay(t, testConfig(fakeREPL(dir)), WithLogger(zaptest.NewLogger(t)))
	s := httptest.NewServer(r.Handler())
	t.Cleanup(s.Close)

	ctx := context.Background()

	badClient, err := NewClient(s.URL, "nope")
	require.NoError(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(badClient.Send(ctx, "Bedroom", []string{"play"}), &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)

	client, err := NewClient(s.URL, testToken)
	require.NoError(t, err)
	require.True(t, errors.As(client.Send(ctx, "Unknown", []string{"play"}), &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Code)

	require.True(t, errors.As(client.Send(ctx, "Bedroom", nil), &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.Code)
	assert.False(t, spawned(t, dir))

	require.NoError(t, client.Send(ctx, "Bedroom", []string{"up", "select"}))
	assert.Equal(t, "up\nselect\nexit\n", readFile(t, filepath.Join(dir, "input")))
}

func TestClientRetriesUntilRelayListens(t *testing.T) {
	addr, err := inet.FreeTCPAddr("127.0.0.1")
	require.NoError(t, err)

	dir := t.TempDir()
	r := newTestRelay(t, testConfig(fakeREPL(dir)), WithLogger(zap.NewNop()), WithListenAddr(addr))
	t.Cleanup(func() { r.Stop() })

	client, err := NewClient("http://"+addr, testToken, WithCustomizeRetryableClient(func(c *retryablehttp.Client) {
		c.RetryWaitMin = 20 * time.Millisecond
		c.RetryWaitMax = 100 * time.Millisecond
		c.RetryMax = 100
	}))
	require.NoError(t, err)

	go func() {
		time.Sleep(200 * time.Millisecond)
		r.Run()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.Send(ctx, "Bedroom", []string{"play"}))
	assert.Equal(t, "play\nexit\n", readFile(t, filepath.Join(dir, "input")))
}

func TestClientGivesUpWithoutRelay(t *testing.T) {
	addr, err := inet.FreeTCPAddr("127.0.0.1")
	require.NoError(t, err)

	var attempts int32
	client, err := NewClient("http://"+addr, testToken,
		WithClientWaitInterval(10*time.Millisecond),
		WithCustomizeRetryableClient(func(c *retryablehttp.Client) {
			c.RetryWaitMin = time.Millisecond
			c.RetryWaitMax = time.Millisecond
			c.RetryMax = 1
			c.RequestLogHook = func(retryablehttp.Logger, *http.Request, int) {
				atomic.AddInt32(&attempts, 1)
			}
		}),
	)
	require.NoError(t, err)

	err = client.Send(context.Background(), "Bedroom", []string{"play"})
	require.ErrorContains(t, err, "giving up after 2 attempt(s)")

	require.Equal(t, int32(2), atomic.LoadInt32(&attempts))

	// with a 10ms interval, several pings are attempted before the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, client.WaitForServer(ctx), context.DeadlineExceeded)
	assert.Greater(t, atomic.LoadInt32(&attempts), int32(4))
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("ftp://relay", testToken)
	require.ErrorContains(t, err, "unsupported relay URL scheme")

	_, err = NewClient("://", testToken)
	require.ErrorContains(t, err, "parsing relay URL")
}
