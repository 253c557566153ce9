// Package entities provides the core domain types of the wBPF host runtime:
// linked images, guest modules and their manifests, host function
// signatures, and the observable outcome of an invocation.
package entities
