// Package hostfuncs provides the host function table guests link against.
//
// Functions are plain Go handlers over raw argument values and a
// bounds-checked view of guest memory. They have no dependency on an
// execution engine: the soft processing element and the wazero engine both
// dispatch through the same immutable Registry, which assigns every
// function a stable helper index in name order.
package hostfuncs
