package generic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferPool(t *testing.T) {
	p := NewBufferPool(1500, 2)

	buf := p.Get()
	assert.Len(t, *buf, 1500)

	(*buf)[0] = 0xAA
	p.Put(buf)

	again := p.Get()
	assert.Len(t, *again, 1500)
}

func TestPoolGenerates(t *testing.T) {
	calls := 0
	p := NewPool(func() int {
		calls++
		return 7
	})
	assert.Equal(t, 7, p.Get())
	assert.Equal(t, 1, calls)
}
