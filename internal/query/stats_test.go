package query

import "testing"

func TestAggregate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		prices []int64
		want   Stats
	}{
		{
			name:   "empty",
			prices: nil,
			want:   Stats{},
		},
		{
			name:   "single",
			prices: []int64{42},
			want:   Stats{Max: 42, Min: 42, Median: 42, Mean: 42, Mode: 42, Volume: 1},
		},
		{
			name:   "odd count",
			prices: []int64{5, 1, 3, 3, 9},
			want:   Stats{Max: 9, Min: 1, Median: 3, Mean: 4.2, Mode: 3, Volume: 5},
		},
		{
			name: "even count takes upper middle",
			// sorted [1 2 3 4], index 4/2 = 2
			prices: []int64{4, 1, 3, 2},
			want:   Stats{Max: 4, Min: 1, Median: 3, Mean: 2.5, Mode: 4, Volume: 4},
		},
		{
			name:   "mode tie goes to first seen",
			prices: []int64{7, 9, 9, 7},
			want:   Stats{Max: 9, Min: 7, Median: 9, Mean: 8, Mode: 7, Volume: 4},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Aggregate(tc.prices); got != tc.want {
				t.Fatalf("Aggregate(%v) = %+v, want %+v", tc.prices, got, tc.want)
			}
		})
	}
}
