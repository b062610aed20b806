package value

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes the structure of v with xxhash. Values that are Equal
// produce the same fingerprint.
func (v *Value) Fingerprint() uint64 {
	d := xxhash.New()
	v.writeFingerprint(d)
	return d.Sum64()
}

func (v *Value) writeFingerprint(d *xxhash.Digest) {
	var buf [9]byte
	buf[0] = byte(v.Kind())

	switch v.Kind() {
	case KindNull:
		_, _ = d.Write(buf[:1])
	case KindNumber:
		n := v.num
		if n == 0 {
			n = 0 // -0 == 0
		}
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(n))
		_, _ = d.Write(buf[:])
	case KindBool:
		if v.b {
			buf[1] = 1
		}
		_, _ = d.Write(buf[:2])
	case KindString:
		writeLenPrefixed(d, buf[0], v.str)
	case KindArray:
		binary.BigEndian.PutUint64(buf[1:], uint64(len(v.arr)))
		_, _ = d.Write(buf[:])
		for _, item := range v.arr {
			item.writeFingerprint(d)
		}
	case KindObject:
		binary.BigEndian.PutUint64(buf[1:], uint64(len(v.obj)))
		_, _ = d.Write(buf[:])
		for _, k := range v.Keys() {
			writeLenPrefixed(d, byte(KindString), k)
			v.obj[k].writeFingerprint(d)
		}
	}
}

func writeLenPrefixed(d *xxhash.Digest, tag byte, s string) {
	var buf [9]byte
	buf[0] = tag
	binary.BigEndian.PutUint64(buf[1:], uint64(len(s)))
	_, _ = d.Write(buf[:])
	_, _ = d.WriteString(s)
}

// CombineFingerprints folds a sequence of fingerprints into one, order-sensitive.
func CombineFingerprints(fps ...uint64) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, fp := range fps {
		binary.BigEndian.PutUint64(buf[:], fp)
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}
