package solver

import "math/rand/v2"

// perfectMatching finds a bipartite perfect matching over adj using
// augmenting paths. adj[i] lists the giftees participant i may receive.
// The returned slice maps participant to giftee. With a non-nil rng the
// visiting order is shuffled so repeated calls yield different matchings.
func perfectMatching(adj [][]int, rng *rand.Rand) ([]int, bool) {
	n := len(adj)
	if rng != nil {
		shuffled := make([][]int, n)
		for i, edges := range adj {
			shuffled[i] = append([]int(nil), edges...)
			rng.Shuffle(len(shuffled[i]), func(a, b int) {
				shuffled[i][a], shuffled[i][b] = shuffled[i][b], shuffled[i][a]
			})
		}
		adj = shuffled
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if rng != nil {
		rng.Shuffle(n, func(a, b int) { order[a], order[b] = order[b], order[a] })
	}

	// owner[j] is the participant currently giving to j.
	owner := make([]int, n)
	for j := range owner {
		owner[j] = None
	}

	for _, i := range order {
		seen := make([]bool, n)
		if !augment(i, adj, owner, seen) {
			return nil, false
		}
	}

	perm := make([]int, n)
	for j, i := range owner {
		perm[i] = j
	}
	return perm, true
}

func augment(i int, adj [][]int, owner []int, seen []bool) bool {
	for _, j := range adj[i] {
		if seen[j] {
			continue
		}
		seen[j] = true
		if owner[j] == None || augment(owner[j], adj, owner, seen) {
			owner[j] = i
			return true
		}
	}
	return false
}
