package simdisco

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/datasync/internal/core/protocol"
)

func TestDirectoryAnswers(t *testing.T) {
	dir := NewDirectory()
	e0 := protocol.MustParseEndpoint("10.0.0.1:0")
	e1 := protocol.MustParseEndpoint("10.0.0.2:0")

	r0 := dir.Attach(e0)
	r1 := dir.Attach(e1)
	require.True(t, r0.Begin("endpoint0"))
	require.True(t, r1.Begin("endpoint1"))

	require.True(t, r0.Advertise("my_service", "udp", 9000))
	require.True(t, r0.SetTextRecord("my_service", "udp", "number_as_text", "zero"))
	require.True(t, r1.Advertise("my_other_service", "udp", 9001))
	require.True(t, r1.SetTextRecord("my_other_service", "udp", "number_as_text", "one"))

	ready := false
	r0.Query("my_other_service", "udp", func() {
		results := r0.Results()
		ready = len(results) == 1 && results[0].Text == "number_as_text=one;"
	})
	assert.True(t, ready)

	results := r0.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "10.0.0.2:9001", results[0].Endpoint.String())
	assert.Equal(t, "endpoint1", results[0].Hostname)
	assert.Equal(t, "one", results[0].Records["number_as_text"])

	r1.Query("my_service", "udp", nil)
	require.Len(t, r1.Results(), 1)
	assert.Equal(t, "10.0.0.1:9000", r1.Results()[0].Endpoint.String())

	r1.StopQuery()
	assert.Empty(t, r1.Results())
	assert.False(t, r1.IsQuerying())
}

func TestClosedRespondersAreInvisible(t *testing.T) {
	dir := NewDirectory()
	r0 := dir.Attach(protocol.MustParseEndpoint("10.0.0.1:0"))
	r1 := dir.Attach(protocol.MustParseEndpoint("10.0.0.2:0"))

	assert.False(t, r0.Advertise("svc", "udp", 1), "advertising requires Begin")
	assert.False(t, r0.SetTextRecord("svc", "udp", "k", "v"))

	r0.Begin("a")
	r0.Advertise("svc", "udp", 1)
	require.True(t, r0.Close())

	r1.Query("svc", "udp", nil)
	assert.Empty(t, r1.Results())
	assert.Equal(t, 1, r0.Closes)
}
