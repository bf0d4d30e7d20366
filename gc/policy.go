package gc

// GrowthPolicy recomputes the allocation threshold after each sweep.
type GrowthPolicy struct {
	Factor int
}

// Next returns the threshold for the next collection given the bytes still
// allocated after a sweep.
func (p GrowthPolicy) Next(allocated int) int {
	return allocated * p.Factor
}
