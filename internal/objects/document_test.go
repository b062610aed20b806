package objects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/datasync/internal/core/observability/log"
	"github.com/zeusync/datasync/internal/core/protocol"
	"github.com/zeusync/datasync/internal/core/synchronizer"
	"github.com/zeusync/datasync/internal/core/value"
)

func TestDocumentApply(t *testing.T) {
	var applied int
	d := NewDocument("lights", OnApply(func(*Document) { applied++ }))
	assert.Equal(t, "lights", d.Name())
	assert.True(t, d.ToValue().IsNull())
	assert.True(t, d.UpdatedAt().IsZero())

	require.True(t, d.Apply(value.Bool(true)))
	assert.True(t, d.ToValue().Equal(value.Bool(true)))
	assert.Equal(t, uint64(1), d.Revision())
	assert.False(t, d.UpdatedAt().IsZero())
	assert.False(t, d.Apply(nil))
	assert.Equal(t, 1, applied)
}

func TestDocumentObjectsOnly(t *testing.T) {
	d := NewDocument("cfg", ObjectsOnly(), WithInitial(value.Object(nil)))
	assert.False(t, d.Set(value.Int(3)))
	assert.True(t, d.Set(value.Object(map[string]*value.Value{"a": value.Int(1)})))
	assert.Equal(t, 1, d.ToValue().Len())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry([]string{"node", "lights", "node", ""})
	assert.Equal(t, []string{"node", "lights"}, r.Names())
	assert.True(t, r.Declared("lights"))
	assert.False(t, r.Declared("garage"))

	d, ok := r.Own("lights")
	require.True(t, ok)
	again, _ := r.Own("lights")
	assert.Same(t, d, again)
	_, ok = r.Own("garage")
	assert.False(t, ok)

	peerObjs := r.NewPeerObjects()
	require.Len(t, peerObjs, 2)
	assert.Equal(t, "node", peerObjs[0].Name())
	assert.NotSame(t, d, peerObjs[1])
}

func TestRegistryAsDelegate(t *testing.T) {
	r := NewRegistry([]string{"lights"})
	e := synchronizer.New(r, synchronizer.WithLogger(log.NewNop()))
	peer := protocol.MustParseEndpoint("10.0.0.7:4210")

	require.True(t, e.HandleSyncMessage(e.GroupHash(), peer, "lights", value.String("on")))
	doc, ok := synchronizer.Lookup[*Document](e, peer, "lights")
	require.True(t, ok)
	assert.True(t, doc.ToValue().Equal(value.String("on")))
}
