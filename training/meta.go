package training

import "fmt"

// MetaIteration is the immutable descriptor a step is bound under: which
// problem it runs, how many inner steps it unrolls, whether it is a
// validation step, and the base seed its data and initializations derive
// from. Descriptors are comparable and key the executor's step cache, so
// re-binding the same iteration reuses the existing bound step instead of
// constructing a new one.
type MetaIteration struct {
	Problem    string
	Unroll     int
	Validation bool
	Seed       int64
}

func (m MetaIteration) String() string {
	kind := "train"
	if m.Validation {
		kind = "valid"
	}
	return fmt.Sprintf("%s/%s/unroll=%d/seed=%d", m.Problem, kind, m.Unroll, m.Seed)
}

func (m MetaIteration) validate() error {
	if m.Problem == "" {
		return graphBuildf("meta iteration has no problem name")
	}
	if m.Unroll <= 0 {
		return graphBuildf("meta iteration %q has non-positive unroll %d", m.Problem, m.Unroll)
	}
	return nil
}
