//go:build rattler_debug_finalizers

package install

import "runtime"

// registerLeakCheck arms a finalizer that panics if a Driver is garbage
// collected before PostProcess ran. Only compiled in under the
// rattler_debug_finalizers tag, since finalizer timing is too
// nondeterministic to assert on in normal test runs.
func registerLeakCheck(p *postProcessRequired) {
	runtime.SetFinalizer(p, func(p *postProcessRequired) {
		if !p.done {
			panic("install: Driver was dropped without calling PostProcess")
		}
	})
}
