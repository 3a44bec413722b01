//go:build !go1.22

package fetcher

import "math/rand"

// randInt63n returns a uniform random int64 in [0, n) from the shared
// source. n must be > 0.
func randInt63n(n int64) int64 {
	return rand.Int63n(n)
}
