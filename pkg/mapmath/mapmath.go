// Package mapmath translates client axis addresses into cell coordinates.
package mapmath

// SegmentWidth is the number of cells along one axis of a rendered sector.
const SegmentWidth = 8

// ExpandSequence maps an axis address to its ordered cell coordinates:
// address n covers cells [n*8, n*8+7]. Negative addresses expand the same
// way, so adjacent sectors tile the plane without gaps.
func ExpandSequence(axis int) []int {
	seq := make([]int, SegmentWidth)
	for i := range seq {
		seq[i] = axis*SegmentWidth + i
	}
	return seq
}
