// Package host runs guest modules on the wBPF processing element or on
// wazero behind one calling convention.
//
// An Executor owns the host function table and the engines. Loading a
// module resolves every import the manifest declares and every helper the
// code calls, so a missing host function fails before any guest runs.
// Instance.Invoke is the trampoline: it validates the entry and its
// arguments, runs the guest under a watchdog and returns the single
// completion produced either by the non-returning completion primitive or
// by an implicit return. Segment gives the host bounds-checked access to a
// guest's static data, and Pool spreads calls over isolated instances.
package host
