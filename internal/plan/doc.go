// Package plan loads an optional HCL build plan.
//
// A plan is one .hcl file, or a directory of them read in lexical order. It
// describes the tree to build and how to schedule it:
//
//	tree {
//	  fan_in = 3
//	  values = concat(range(0, 10), [100, 200])
//	}
//
//	scheduler {
//	  strategy       = "fully-parallel"
//	  workers        = 8
//	  max_in_flight  = 4
//	  node_delay     = "5ms"
//	  failure_policy = "continue"
//	}
//
// Both blocks and every attribute are optional. Attributes left out stay unset
// in the returned Plan so callers can layer command-line flags and defaults on
// top. Expressions may call the functions listed in Functions.
package plan
