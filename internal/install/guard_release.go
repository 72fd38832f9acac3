//go:build !rattler_debug_finalizers

package install

func registerLeakCheck(p *postProcessRequired) {}
