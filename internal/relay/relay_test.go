package relay

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nootle/nootle/internal/transport"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// startRelay serves a relay on an httptest server.
func startRelay(t *testing.T, config *Config) (*Server, string) {
	t.Helper()

	if config == nil {
		config = &Config{}
	}
	config.Logger = quietLogger()
	server := NewServer(config)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		server.Stop()
		ts.Close()
	})
	return server, ts.URL
}

func dial(t *testing.T, url string) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// pair connects a to b through the relay and returns both channel ends.
func pair(t *testing.T, a, b *Client) (transport.Channel, transport.Channel) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		ch  transport.Channel
		err error
	}
	accepted := make(chan result, 1)
	go func() {
		ch, err := b.Accept(ctx)
		accepted <- result{ch, err}
	}()

	ca, err := a.Connect(ctx, b.LocalID())
	require.NoError(t, err)
	r := <-accepted
	require.NoError(t, r.err)

	t.Cleanup(func() {
		ca.Close()
		r.ch.Close()
	})
	return ca, r.ch
}

func TestDial_AssignsCode(t *testing.T) {
	server, url := startRelay(t, nil)
	c := dial(t, url)

	assert.Len(t, c.LocalID(), 8)
	assert.Equal(t, strings.ToUpper(c.LocalID()), c.LocalID())
	assert.Eventually(t, func() bool { return server.PeerCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	c.Close()
	assert.Eventually(t, func() bool { return server.PeerCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRelay_ExchangesFrames(t *testing.T) {
	_, url := startRelay(t, nil)
	a := dial(t, url)
	b := dial(t, url)

	ca, cb := pair(t, a, b)
	assert.Equal(t, b.LocalID(), ca.RemoteID())
	assert.Equal(t, a.LocalID(), cb.RemoteID())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload := []byte(`{"todos":[{"id":"t1","task":"<b>milk</b>"}]}`)
	require.NoError(t, ca.Send(ctx, payload))

	got, err := cb.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, cb.Send(ctx, []byte(`{}`)))
	got, err = ca.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{}`), got)
}

func TestRelay_LargeFrame(t *testing.T) {
	_, url := startRelay(t, nil)
	a := dial(t, url)
	b := dial(t, url)
	ca, cb := pair(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	payload := []byte(`"` + strings.Repeat("x", 4<<20) + `"`)
	require.NoError(t, ca.Send(ctx, payload))

	got, err := cb.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(payload), len(got))
}

func TestRelay_CloseAfterSendDeliversFrame(t *testing.T) {
	_, url := startRelay(t, nil)
	a := dial(t, url)
	b := dial(t, url)
	ca, cb := pair(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, ca.Send(ctx, []byte(`"bye"`)))
	go ca.Close()

	got, err := cb.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, `"bye"`, string(got))

	_, err = cb.Receive(ctx)
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.True(t, transport.IsTransportError(err))
}

func TestConnect_UnknownPeer(t *testing.T) {
	_, url := startRelay(t, nil)
	a := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := a.Connect(ctx, "ZZZZZZZZ")
	assert.ErrorIs(t, err, transport.ErrUnknownPeer)

	_, err = a.Connect(ctx, "  ")
	assert.ErrorIs(t, err, transport.ErrInvalidID)
}

func TestConnect_PairTimeout(t *testing.T) {
	_, url := startRelay(t, &Config{PairTimeout: 50 * time.Millisecond})
	a := dial(t, url)
	b := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// b never calls Accept
	_, err := a.Connect(ctx, b.LocalID())
	assert.ErrorIs(t, err, transport.ErrTimeout)
}

func TestConnect_RateLimited(t *testing.T) {
	_, url := startRelay(t, &Config{
		ConnectRate:  rate.Every(time.Hour),
		ConnectBurst: 1,
	})
	a := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := a.Connect(ctx, "ZZZZZZZZ")
	require.ErrorIs(t, err, transport.ErrUnknownPeer)

	_, err = a.Connect(ctx, "ZZZZZZZZ")
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrRateLimited)
	assert.NotErrorIs(t, err, transport.ErrUnknownPeer)
	assert.True(t, transport.IsTransportError(err))
}

func TestPruneLimiters(t *testing.T) {
	server, _ := startRelay(t, nil)

	start := time.Now()
	require.True(t, server.allowAt("10.0.0.1", start))
	require.True(t, server.allowAt("10.0.0.2", start.Add(limiterIdleTimeout/2)))
	assert.Equal(t, 2, server.limiterCount())

	// Only 10.0.0.1 has been idle long enough
	server.pruneLimiters(start.Add(limiterIdleTimeout + time.Second))
	assert.Equal(t, 1, server.limiterCount())

	server.pruneLimiters(start.Add(2 * limiterIdleTimeout))
	assert.Equal(t, 0, server.limiterCount())
}

func TestPruneLimiters_KeepsRecentHosts(t *testing.T) {
	server, _ := startRelay(t, &Config{
		ConnectRate:  rate.Every(time.Hour),
		ConnectBurst: 1,
	})

	start := time.Now()
	require.True(t, server.allowAt("10.0.0.1", start))
	require.False(t, server.allowAt("10.0.0.1", start.Add(time.Second)))

	// The bucket needs an hour to refill, longer than the default idle time
	server.pruneLimiters(start.Add(limiterIdleTimeout + time.Minute))
	assert.Equal(t, 1, server.limiterCount())
	assert.False(t, server.allowAt("10.0.0.1", start.Add(limiterIdleTimeout+time.Minute)), "limit survives a sweep")

	server.pruneLimiters(start.Add(2 * time.Hour))
	assert.Equal(t, 0, server.limiterCount())
}

func TestReceive_Timeout(t *testing.T) {
	_, url := startRelay(t, nil)
	a := dial(t, url)
	b := dial(t, url)
	_, cb := pair(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := cb.Receive(ctx)
	assert.ErrorIs(t, err, transport.ErrTimeout)
}

func TestAccept_ClosedClient(t *testing.T) {
	_, url := startRelay(t, nil)
	a := dial(t, url)
	a.Close()

	_, err := a.Accept(context.Background())
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestHealth(t *testing.T) {
	server, url := startRelay(t, nil)
	dial(t, url)
	require.Eventually(t, func() bool { return server.PeerCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["peers"])
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Addr: "127.0.0.1:0", Logger: quietLogger()})
	require.NoError(t, server.Start())

	addr := server.GetAddr()
	assert.NotEqual(t, "127.0.0.1:0", addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, "ws://"+addr, quietLogger())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, server.Stop())
}
