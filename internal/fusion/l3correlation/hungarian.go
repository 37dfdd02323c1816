package l3correlation

import "math"

// The correlator uses the Kuhn–Munkres (Hungarian) algorithm to keep the
// ambiguous sensors of one system from all collapsing onto the same node
// in one cycle, which a per-sensor argmax would allow when two trackers
// share a candidate set.
//
// Rows are a system's decidable ambiguous sensors and columns the union of
// their candidate nodes. C[i][j] is sensor i's mean negative
// log-likelihood for node j: accumulated motion evidence divided by the
// number of compared samples, so sensors with longer histories do not
// dominate. Nodes that are not candidates of a sensor, or have no samples
// yet, cost hungarianInf and are never selected.

// hungarianInf marks a forbidden sensor-to-node pairing in a cost matrix.
const hungarianInf = 1e18

// HungarianAssign solves the rectangular assignment problem for an n×m cost
// matrix (Kuhn–Munkres with potentials, O(n³)). It returns assignments[i] =
// column assigned to row i, or -1 if unassigned. Costs ≥ hungarianInf are
// treated as forbidden. The matrix is padded to square with hungarianInf so
// excess rows stay unassigned.
func HungarianAssign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	if m == 0 {
		result := make([]int, n)
		for i := range result {
			result[i] = -1
		}
		return result
	}

	dim := n
	if m > dim {
		dim = m
	}

	c := make([][]float64, dim)
	for i := 0; i < dim; i++ {
		c[i] = make([]float64, dim)
		for j := 0; j < dim; j++ {
			if i < n && j < m {
				c[i][j] = cost[i][j]
			} else {
				c[i][j] = hungarianInf
			}
		}
	}

	// 1-indexed internally; index 0 is the virtual column.
	const inf = math.MaxFloat64 / 2

	u := make([]float64, dim+1) // row potentials
	v := make([]float64, dim+1) // column potentials
	p := make([]int, dim+1)     // p[j] = row assigned to column j
	way := make([]int, dim+1)   // way[j] = previous column on the augmenting path
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0

		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			if j1 < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	rowAssign := make([]int, dim)
	for i := range rowAssign {
		rowAssign[i] = -1
	}
	for j := 1; j <= dim; j++ {
		if p[j] > 0 && p[j] <= dim {
			rowAssign[p[j]-1] = j - 1
		}
	}

	result := make([]int, n)
	for i := 0; i < n; i++ {
		col := rowAssign[i]
		if col < 0 || col >= m || cost[i][col] >= hungarianInf {
			result[i] = -1
		} else {
			result[i] = col
		}
	}
	return result
}
