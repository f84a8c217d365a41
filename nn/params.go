package nn

import "fmt"

// ParamModule is implemented by blocks carrying trainable parameters.
// VisitParams calls visit once per parameter slice with a dotted,
// hierarchical name; the slices are the live backing arrays, so callers
// may read or overwrite them in place (checkpointing does both).
type ParamModule interface {
	VisitParams(prefix string, visit func(name string, data []float64))
}

// VisitParams walks any block tree, descending into composites and
// skipping parameter-free blocks. It takes any because AlignBranches
// is a composite without the single-tensor Process/Backward shape.
func VisitParams(m any, prefix string, visit func(name string, data []float64)) {
	switch b := m.(type) {
	case *Sequential:
		for i, sub := range b.mods {
			VisitParams(sub, fmt.Sprintf("%s.%d", prefix, i), visit)
		}
	case *Residual:
		VisitParams(b.mod, prefix+".block", visit)
	case *AlignBranches:
		for i, sub := range b.branches {
			VisitParams(sub, fmt.Sprintf("%s.branch%d", prefix, i), visit)
		}
	case ParamModule:
		b.VisitParams(prefix, visit)
	}
}
