// Package valuetest provides generators for property tests over values.
package valuetest

import (
	"math/rand"

	"github.com/zeusync/datasync/internal/core/value"
)

// RandomString returns up to 31 lowercase letters.
func RandomString(rng *rand.Rand) string {
	n := rng.Intn(32)
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + rng.Intn(26))
	}
	return string(b)
}

// Random builds a value whose containers nest at most depth levels. Leaves are
// null, numbers with two decimals, bools or strings.
func Random(rng *rand.Rand, depth int) *value.Value {
	if depth <= 0 {
		switch rng.Intn(4) {
		case 0:
			return value.Null()
		case 1:
			return value.Number(float64(rng.Intn(1000000)) / 100.0)
		case 2:
			return value.Bool(rng.Intn(2) == 1)
		default:
			return value.String(RandomString(rng))
		}
	}

	size := rng.Intn(8)
	if rng.Intn(2) == 0 {
		items := make([]*value.Value, size)
		for i := range items {
			items[i] = Random(rng, depth-1)
		}
		return value.Array(items...)
	}

	fields := make(map[string]*value.Value, size)
	for i := 0; i < size; i++ {
		fields[RandomString(rng)] = Random(rng, depth-1)
	}
	return value.Object(fields)
}
