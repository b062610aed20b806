package mdns

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/datasync/internal/core/discovery"
	"github.com/zeusync/datasync/internal/core/observability/log"
)

func TestServiceType(t *testing.T) {
	assert.Equal(t, "_SmallDataSync_Group_0000ABCD._udp", ServiceType(discovery.ServiceName(0xABCD), "udp"))
}

func TestEntryToResult(t *testing.T) {
	res, ok := entryToResult(&mdns.ServiceEntry{
		Name:       "kitchen._SmallDataSync_Group_0000ABCD._udp.local.",
		Host:       "kitchen.local.",
		AddrV4:     net.IPv4(192, 168, 1, 20),
		Port:       4210,
		InfoFields: []string{"id=abc", "group=0000ABCD"},
	})
	require.True(t, ok)
	assert.Equal(t, "192.168.1.20:4210", res.Endpoint.String())
	assert.Equal(t, "kitchen", res.Hostname)
	assert.Equal(t, "abc", res.Records[discovery.TextKeyID])
	assert.Equal(t, "group=0000ABCD;id=abc;", res.Text)

	res, ok = entryToResult(&mdns.ServiceEntry{Host: "x.local.", AddrV4: net.IPv4(10, 0, 0, 1), Port: 1, Info: "id=1|group=2"})
	require.True(t, ok)
	assert.Equal(t, "2", res.Records[discovery.TextKeyGroup])

	_, ok = entryToResult(&mdns.ServiceEntry{Host: "x.local.", Port: 4210})
	assert.False(t, ok, "no address")
	_, ok = entryToResult(&mdns.ServiceEntry{AddrV4: net.IPv4(10, 0, 0, 1)})
	assert.False(t, ok, "no port")
	_, ok = entryToResult(nil)
	assert.False(t, ok)
}

func TestRequiresBegin(t *testing.T) {
	r := New(nil, log.NewNop())
	assert.False(t, r.Advertise("svc", "udp", 9000))
	assert.False(t, r.SetTextRecord("svc", "udp", "k", "v"))
	assert.False(t, r.Begin("  "))
	assert.Empty(t, r.Results())
	assert.True(t, r.Close())
}
