package query

import "sort"

// Stats holds the aggregate numbers for one set of sell prices.
type Stats struct {
	Max    int64
	Min    int64
	Median int64
	Mean   float64
	Mode   int64
	Volume int
}

// Aggregate computes price statistics over one day of sells. Median is the
// element at index n/2 of the sorted prices; mode ties break toward the
// price whose first occurrence came earliest. Empty input yields zeros.
func Aggregate(prices []int64) Stats {
	if len(prices) == 0 {
		return Stats{}
	}

	sorted := make([]int64, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, p := range sorted {
		sum += p
	}

	counts := make(map[int64]int, len(prices))
	order := make([]int64, 0, len(prices))
	for _, p := range prices {
		if counts[p] == 0 {
			order = append(order, p)
		}
		counts[p]++
	}
	mode, best := order[0], 0
	for _, p := range order {
		if counts[p] > best {
			mode, best = p, counts[p]
		}
	}

	return Stats{
		Max:    sorted[len(sorted)-1],
		Min:    sorted[0],
		Median: sorted[len(sorted)/2],
		Mean:   float64(sum) / float64(len(prices)),
		Mode:   mode,
		Volume: len(prices),
	}
}
