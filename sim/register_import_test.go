package sim_test

// Blank imports trigger each implementation package's init(), which registers
// its factory. This lets package sim's internal test files build interpolators
// without importing the sub-packages directly (which would create an import
// cycle).
import (
	_ "github.com/attrsim/attrsim/sim/attrfunc"
	_ "github.com/attrsim/attrsim/sim/geo"
	_ "github.com/attrsim/attrsim/sim/numeric"
	_ "github.com/attrsim/attrsim/sim/text"
)
