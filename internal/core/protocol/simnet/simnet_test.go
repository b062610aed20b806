package simnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/datasync/internal/core/protocol"
)

var (
	alice = protocol.MustParseEndpoint("10.0.0.1:4210")
	bob   = protocol.MustParseEndpoint("10.0.0.2:4210")
)

var _ protocol.Transport = (*Interface)(nil)

func TestDeliveryOrder(t *testing.T) {
	n := New()
	a := n.Attach(alice)
	b := n.Attach(bob)

	assert.False(t, b.HasIncoming())
	_, ok := b.Receive()
	assert.False(t, ok)

	require.True(t, a.Send(bob, []byte("one")))
	require.True(t, a.Send(bob, []byte("two")))
	assert.Equal(t, 2, b.Pending())

	p, ok := b.Receive()
	require.True(t, ok)
	assert.Equal(t, alice, p.From)
	assert.Equal(t, "one", string(p.Data))

	p, ok = b.Receive()
	require.True(t, ok)
	assert.Equal(t, "two", string(p.Data))
	assert.False(t, b.HasIncoming())
	assert.Equal(t, 2, n.SentFrom(alice))
}

func TestSendCopiesData(t *testing.T) {
	n := New()
	a := n.Attach(alice)
	b := n.Attach(bob)

	buf := []byte("abc")
	a.Send(bob, buf)
	buf[0] = 'x'

	p, _ := b.Receive()
	assert.Equal(t, "abc", string(p.Data))
}

func TestUnknownDestinationAndFailing(t *testing.T) {
	n := New()
	a := n.Attach(alice)

	assert.False(t, a.Send(bob, []byte("x")))

	b := n.Attach(bob)
	a.SetFailing(true)
	assert.False(t, a.Send(bob, []byte("x")))
	assert.Equal(t, 0, b.Pending())
	assert.Equal(t, 2, n.SentFrom(alice))

	require.NoError(t, b.Close())
	a.SetFailing(false)
	assert.False(t, a.Send(bob, []byte("x")))
}

func TestLossIsDeterministic(t *testing.T) {
	run := func() (int, int) {
		n := New(WithLossRate(0.5), WithSeed(234823))
		a := n.Attach(alice)
		b := n.Attach(bob)
		for i := 0; i < 1000; i++ {
			a.Send(bob, []byte{byte(i)})
		}
		return b.Pending(), n.Dropped()
	}

	delivered, dropped := run()
	assert.Equal(t, 1000, delivered+dropped)
	assert.InDelta(t, 500, delivered, 100)

	again, _ := run()
	assert.Equal(t, delivered, again)
}

func TestTotalLoss(t *testing.T) {
	n := New(WithLossRate(3))
	a := n.Attach(alice)
	b := n.Attach(bob)
	assert.True(t, a.Send(bob, []byte("x")))
	assert.False(t, b.HasIncoming())
}
