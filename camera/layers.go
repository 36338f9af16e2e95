package camera

// Group partitions data into consecutive chunks of n elements.
// A trailing chunk shorter than n is kept so callers can decide what to do
// with truncated input. n <= 0 yields nil.
func Group[T any](data []T, n int) [][]T {
	if n <= 0 || len(data) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(data)+n-1)/n)
	for i := 0; i < len(data); i += n {
		end := min(i+n, len(data))
		out = append(out, data[i:end:end])
	}
	return out
}

// SlidingJoin returns the overlapping windows of n elements advancing by one.
// A sequence of length L yields max(0, L-n+1) windows.
func SlidingJoin[T any](data []T, n int) [][]T {
	if n <= 0 || len(data) < n {
		return nil
	}
	out := make([][]T, 0, len(data)-n+1)
	for i := 0; i+n <= len(data); i++ {
		out = append(out, data[i:i+n:i+n])
	}
	return out
}

// DecodeCompressedPixels turns an (x, y, run) triplet list into spans.
// A truncated trailing triplet and zero-length runs are skipped.
func DecodeCompressedPixels(data []int, segment int) []Span {
	groups := Group(data, 3)
	spans := make([]Span, 0, len(groups))
	for _, g := range groups {
		if len(g) < 3 || g[2] <= 0 {
			continue
		}
		spans = append(spans, Span{X: g[0], Y: g[1], Length: g[2], Segment: segment})
	}
	return spans
}

// DecodePixelPairs turns a flat (x, y) list into spans, merging horizontal neighbours
func DecodePixelPairs(data []int, segment int) []Span {
	var spans []Span
	for _, g := range Group(data, 2) {
		if len(g) < 2 {
			continue
		}
		if n := len(spans); n > 0 {
			last := &spans[n-1]
			if last.Y == g[1] && last.X+last.Length == g[0] {
				last.Length++
				continue
			}
		}
		spans = append(spans, Span{X: g[0], Y: g[1], Length: 1, Segment: segment})
	}
	return spans
}

// IndexRuns converts row-major cell indices of a width x height image block,
// stored bottom row first, into spans placed at (left, top) on the map grid.
func IndexRuns(indices []int, width, height, left, top, segment int) []Span {
	if width <= 0 || height <= 0 {
		return nil
	}
	var spans []Span
	for _, idx := range indices {
		x := idx%width + left
		y := (height - 1 - idx/width) + top
		if n := len(spans); n > 0 {
			last := &spans[n-1]
			if last.Y == y && last.X+last.Length == x {
				last.Length++
				continue
			}
		}
		spans = append(spans, Span{X: x, Y: y, Length: 1, Segment: segment})
	}
	return spans
}
