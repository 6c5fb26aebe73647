package keyword

// EditDistance returns the optimal string alignment distance between a and b: the
// fewest rune insertions, deletions, substitutions and adjacent transpositions turning
// one into the other. Typing "baot" for "boat" costs 1, not 2.
func EditDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	// Three rolling rows: two back (for transpositions), previous, current.
	back := make([]int, len(rb)+1)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			d := min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				d = min(d, back[j-2]+1)
			}
			cur[j] = d
		}
		back, prev, cur = prev, cur, back
	}
	return prev[len(rb)]
}

// withinDistance reports whether EditDistance(a, b) <= max, skipping the full computation
// when the rune lengths alone rule it out.
func withinDistance(a, b string, max int) bool {
	la, lb := len([]rune(a)), len([]rune(b))
	if la-lb > max || lb-la > max {
		return false
	}
	return EditDistance(a, b) <= max
}
