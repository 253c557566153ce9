// Package guests provides the built-in guest programs: AES-CBC over a guest
// buffer, dynamic host lookups with static data, and unsigned
// multiply/divide.
//
// Every guest exists as unlinked wBPF objects for the soft processing
// element and as WebAssembly text for the wazero engine. Both forms export
// the same entries with the same signatures, so the same manifest describes
// either.
package guests
