package synchronizer

import (
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/datasync/internal/core/protocol"
	"github.com/zeusync/datasync/internal/core/value"
)

// StateDigest summarizes ep's objects. Two object sets with equal names and
// equal values have equal digests.
func (e *Engine) StateDigest(ep protocol.Endpoint) (uint64, bool) {
	objs, ok := e.peers[ep]
	if !ok {
		return 0, false
	}
	return digest(objs), true
}

// OwnDigest summarizes our own objects, comparable with StateDigest.
func (e *Engine) OwnDigest() uint64 {
	return digest(e.own)
}

func digest(objs []Synchronizable) uint64 {
	sorted := slices.SortedFunc(slices.Values(objs), func(a, b Synchronizable) int {
		return strings.Compare(a.Name(), b.Name())
	})
	fps := make([]uint64, 0, 2*len(sorted))
	for _, obj := range sorted {
		fps = append(fps, xxhash.Sum64String(obj.Name()), obj.ToValue().Fingerprint())
	}
	return value.CombineFingerprints(fps...)
}
