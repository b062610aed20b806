package inspector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/datasync/internal/core/observability/log"
	"github.com/zeusync/datasync/internal/core/protocol"
	"github.com/zeusync/datasync/internal/core/value"
)

type fakeSource struct {
	own   map[string]*value.Value
	peers map[protocol.Endpoint]map[string]*value.Value
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		own: map[string]*value.Value{"lights": value.Bool(false)},
		peers: map[protocol.Endpoint]map[string]*value.Value{
			protocol.MustParseEndpoint("10.0.0.2:4210"): {"lights": value.Bool(true)},
		},
	}
}

func (f *fakeSource) Status() Status {
	return Status{
		Hostname: "kitchen",
		Group:    "house",
		Peers:    []PeerStatus{{Endpoint: "10.0.0.2:4210", Digest: "00"}},
		Active:   []ActiveStatus{{ID: 3, Destination: "10.0.0.2:4210", Type: "sync", Format: "json", RetriesLeft: 99}},
	}
}

func (f *fakeSource) ReadObject(name string, peer *protocol.Endpoint) (*value.Value, error) {
	objs := f.own
	if peer != nil {
		var ok bool
		if objs, ok = f.peers[*peer]; !ok {
			return nil, ErrUnknownPeer
		}
	}
	v, ok := objs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, name)
	}
	return v, nil
}

func (f *fakeSource) WriteObject(name string, v *value.Value) error {
	if _, ok := f.own[name]; !ok {
		return ErrUnknownObject
	}
	f.own[name] = v
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeSource, *httptest.Server) {
	t.Helper()
	src := newFakeSource()
	s := New(src, nil, nil, log.NewNop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, src, ts
}

func do(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestStatus(t *testing.T) {
	_, _, ts := newTestServer(t)

	code, body := do(t, http.MethodGet, ts.URL+"/status", "")
	require.Equal(t, http.StatusOK, code)

	var st Status
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, "house", st.Group)
	require.Len(t, st.Active, 1)
	assert.Equal(t, uint32(99), st.Active[0].RetriesLeft)
}

func TestObjects(t *testing.T) {
	_, src, ts := newTestServer(t)

	code, body := do(t, http.MethodGet, ts.URL+"/objects/lights", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "false", body)

	code, body = do(t, http.MethodGet, ts.URL+"/objects/lights?peer=10.0.0.2:4210", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "true", body)

	code, _ = do(t, http.MethodGet, ts.URL+"/objects/lights?peer=10.0.0.9:1", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, http.MethodGet, ts.URL+"/objects/lights?peer=garbage", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, http.MethodGet, ts.URL+"/objects/garage", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, http.MethodPut, ts.URL+"/objects/lights", `{"on":true,"level":3}`)
	require.Equal(t, http.StatusNoContent, code)
	level, ok := src.own["lights"].Key("level")
	require.True(t, ok)
	assert.True(t, level.Equal(value.Int(3)))

	code, body = do(t, http.MethodPut, ts.URL+"/objects/lights", `{"on":`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body, "error")
	code, _ = do(t, http.MethodPut, ts.URL+"/objects/garage", `1`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t)
	do(t, http.MethodGet, ts.URL+"/status", "")

	code, body := do(t, http.MethodGet, ts.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `datasync_http_requests_total{op="status",status="2xx"} 1`)
}

func TestEventStream(t *testing.T) {
	s, _, ts := newTestServer(t)

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Hub().Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	s.Hub().Publish(Event{Kind: EventPeerAdded, Peer: "10.0.0.2:4210"})
	s.Hub().Publish(Event{Kind: EventAckReceived, ID: MessageID(7)})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var first, second Event
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, EventPeerAdded, first.Kind)
	assert.Equal(t, "10.0.0.2:4210", first.Peer)
	assert.False(t, first.Time.IsZero())
	require.NotNil(t, second.ID)
	assert.Equal(t, uint32(7), *second.ID)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return s.Hub().Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	h := NewHub(1)
	events, unsubscribe := h.Subscribe()
	h.Publish(Event{Kind: EventPeerAdded})
	h.Publish(Event{Kind: EventPeerRemoved})
	assert.Equal(t, uint64(1), h.Dropped())
	assert.Equal(t, EventPeerAdded, (<-events).Kind)

	unsubscribe()
	unsubscribe()
	_, ok := <-events
	assert.False(t, ok)
}

func TestStartStop(t *testing.T) {
	s := New(newFakeSource(), nil, nil, log.NewNop())
	require.NoError(t, s.Start("127.0.0.1:0"))
	assert.ErrorIs(t, s.Start("127.0.0.1:0"), ErrServerAlreadyRunning)

	code, _ := do(t, http.MethodGet, "http://"+s.Addr()+"/status", "")
	assert.Equal(t, http.StatusOK, code)

	require.NoError(t, s.Stop(context.Background()))
	assert.ErrorIs(t, s.Stop(context.Background()), ErrServerNotRunning)
	assert.Empty(t, s.Addr())
}
