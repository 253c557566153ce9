// Package ports defines the interfaces between the host runtime and its
// infrastructure: execution engines, guest memory, the host function table,
// parsers, validators and stores.
package ports
