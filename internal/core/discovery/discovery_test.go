package discovery_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/datasync/internal/core/discovery"
	"github.com/zeusync/datasync/internal/core/discovery/simdisco"
	"github.com/zeusync/datasync/internal/core/observability/log"
	"github.com/zeusync/datasync/internal/core/protocol"
)

type collector struct {
	results []discovery.Result
}

func (c *collector) CommitDiscovered(r discovery.Result) {
	c.results = append(c.results, r)
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "SmallDataSync_Group_0000ABCD", discovery.ServiceName(0xABCD))
	assert.Equal(t, "DEADBEEF", discovery.GroupText(0xDEADBEEF))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "keyvalue", discovery.Sanitize("key=value="))
	long := strings.Repeat("a", 199) + "é" + strings.Repeat("b", 10)
	got := discovery.Sanitize(long)
	assert.LessOrEqual(t, len(got), 200)
	assert.Equal(t, strings.Repeat("a", 199), got)
	assert.Len(t, discovery.Sanitize(strings.Repeat("x", 300)), 200)
}

func TestTextRoundTrip(t *testing.T) {
	text := discovery.FormatText(map[string]string{"id": "abc", "group": "0000ABCD"})
	assert.Equal(t, "group=0000ABCD;id=abc;", text)
	assert.Equal(t, map[string]string{"id": "abc", "group": "0000ABCD"}, discovery.ParseText(text))
	assert.Equal(t, map[string]string{"a": "1", "b": ""}, discovery.ParseText("a=1", "b"))
}

func newScheduler(iface discovery.Interface, c discovery.Committer, opts ...discovery.SchedulerOption) *discovery.Scheduler {
	return discovery.NewScheduler(iface, c, append([]discovery.SchedulerOption{discovery.WithLogger(log.NewNop())}, opts...)...)
}

func TestSchedulerCycle(t *testing.T) {
	dir := simdisco.NewDirectory()
	self := dir.Attach(protocol.MustParseEndpoint("10.0.0.1:0"))
	peer := dir.Attach(protocol.MustParseEndpoint("10.0.0.2:0"))

	c := &collector{}
	s := newScheduler(self, c, discovery.WithTimeBetweenScans(10), discovery.WithScanDuration(3))
	require.True(t, s.Start("self", 0x1234, 9000, "self-id"))
	assert.Equal(t, discovery.StateIdle, s.State())
	assert.Equal(t, uint32(10), s.TicksUntilNextScan())

	peerScheduler := newScheduler(peer, nil)
	require.True(t, peerScheduler.Start("peer", 0x1234, 9001, "peer-id"))

	for i := 0; i < 9; i++ {
		s.Tick()
	}
	assert.False(t, s.IsScanning())
	assert.Equal(t, uint32(1), s.TicksUntilNextScan())

	s.Tick()
	require.True(t, s.IsScanning())
	assert.Equal(t, uint32(3), s.TicksUntilCommit())
	assert.Zero(t, s.TicksUntilNextScan())
	assert.True(t, self.IsQuerying())

	s.Tick()
	s.Tick()
	assert.Empty(t, c.results)
	s.Tick()

	assert.False(t, s.IsScanning())
	assert.False(t, self.IsQuerying())
	assert.Equal(t, uint32(10), s.TicksUntilNextScan())

	require.Len(t, c.results, 1, "own advertisement is skipped")
	r := c.results[0]
	assert.Equal(t, "10.0.0.2:9001", r.Endpoint.String())
	assert.Equal(t, "peer", r.Hostname)
	assert.Equal(t, "group=00001234;id=peer-id;", r.Text)
}

func TestSchedulerIgnoresOtherGroups(t *testing.T) {
	dir := simdisco.NewDirectory()
	self := dir.Attach(protocol.MustParseEndpoint("10.0.0.1:0"))
	other := dir.Attach(protocol.MustParseEndpoint("10.0.0.2:0"))

	// same service name but a conflicting group record
	require.True(t, other.Begin("other"))
	require.True(t, other.Advertise(discovery.ServiceName(1), discovery.ServiceProtocol, 9000))
	require.True(t, other.SetTextRecord(discovery.ServiceName(1), discovery.ServiceProtocol, discovery.TextKeyGroup, "00000002"))

	c := &collector{}
	s := newScheduler(self, c, discovery.WithScanDuration(1))
	require.True(t, s.Start("self", 1, 9000, "self-id"))
	s.ScanNow()
	s.Tick()
	assert.Empty(t, c.results)
}

func TestSchedulerClampsCountdowns(t *testing.T) {
	dir := simdisco.NewDirectory()
	self := dir.Attach(protocol.MustParseEndpoint("10.0.0.1:0"))
	s := newScheduler(self, &collector{})
	require.True(t, s.Start("self", 1, 9000, ""))

	assert.Equal(t, uint32(discovery.DefaultTimeBetweenScans), s.TicksUntilNextScan())
	s.SetTimeBetweenScans(5)
	assert.Equal(t, uint32(5), s.TicksUntilNextScan())
	s.SetTimeBetweenScans(50)
	assert.Equal(t, uint32(5), s.TicksUntilNextScan(), "lengthening does not extend the pending wait")

	s.ScanNow()
	require.True(t, s.IsScanning())
	assert.Equal(t, uint32(discovery.DefaultScanDuration), s.TicksUntilCommit())
	s.SetScanDuration(2)
	assert.Equal(t, uint32(2), s.TicksUntilCommit())

	s.ScanNow()
	assert.Equal(t, 1, self.Queries, "ScanNow while scanning is a no-op")

	s.Tick()
	s.Tick()
	assert.False(t, s.IsScanning())
	assert.Equal(t, uint32(50), s.TicksUntilNextScan())

	s.SetScanDuration(0)
	assert.Equal(t, uint32(1), s.ScanDuration())
}

func TestSchedulerRestartAndStop(t *testing.T) {
	dir := simdisco.NewDirectory()
	self := dir.Attach(protocol.MustParseEndpoint("10.0.0.1:0"))
	watcher := dir.Attach(protocol.MustParseEndpoint("10.0.0.9:0"))

	s := newScheduler(self, &collector{})
	s.Tick()
	assert.Zero(t, self.Queries, "idle until started")

	require.True(t, s.Start("self", 1, 9000, "id"))
	require.True(t, s.Restart(2))
	assert.Equal(t, 2, self.Begins)
	assert.Equal(t, 1, self.Closes)

	watcher.Query(discovery.ServiceName(2), discovery.ServiceProtocol, nil)
	assert.Len(t, watcher.Results(), 1)
	watcher.Query(discovery.ServiceName(1), discovery.ServiceProtocol, nil)
	assert.Empty(t, watcher.Results())

	s.ScanNow()
	require.True(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.False(t, s.IsScanning())
	assert.False(t, self.IsQuerying())

	require.True(t, s.Restart(3), "restart while stopped only records the group")
	assert.False(t, s.IsRunning())
}
