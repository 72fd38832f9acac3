package install

// postProcessRequired tracks whether PostProcess has been called for a
// Driver before it goes out of scope. Leak detection itself lives behind
// a build tag (guard_debug.go vs guard_release.go) so production builds
// never pay for it. Finalizer timing is not deterministic, so no test
// asserts the leak check.
type postProcessRequired struct {
	done bool
}

func newPostProcessRequired() *postProcessRequired {
	p := &postProcessRequired{}
	registerLeakCheck(p)
	return p
}

func (p *postProcessRequired) markDone() { p.done = true }
