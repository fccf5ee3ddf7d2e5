package query

import "math"

// tenthsOfHundred is 100% expressed in tenths of a percent.
const tenthsOfHundred = 1000

// Percentages converts counts to percentages of total with one decimal,
// using the largest-remainder method. When counts add up to total the
// result adds up to exactly 100.0. A non-positive total yields zeros.
func Percentages(counts []int64, total int64) []float64 {
	out := make([]float64, len(counts))
	if total <= 0 || len(counts) == 0 {
		return out
	}

	var sum int64
	for _, c := range counts {
		sum += c
	}
	// Only the share of total that counts cover is distributed.
	budget := int64(math.Round(float64(sum) * tenthsOfHundred / float64(total)))

	tenths := make([]int64, len(counts))
	rems := make([]float64, len(counts))
	var assigned int64
	for i, c := range counts {
		exact := float64(c) * tenthsOfHundred / float64(total)
		tenths[i] = int64(math.Floor(exact))
		rems[i] = exact - float64(tenths[i])
		assigned += tenths[i]
	}

	for left := budget - assigned; left > 0; left-- {
		best := -1
		for i, r := range rems {
			if r < 0 {
				continue
			}
			if best < 0 || r > rems[best] {
				best = i
			}
		}
		if best < 0 {
			break
		}
		tenths[best]++
		rems[best] = -1
	}

	for i, t := range tenths {
		out[i] = float64(t) / 10
	}
	return out
}
