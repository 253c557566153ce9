package hostfuncs

import (
	"github.com/datenlord/wbpf-userspace/domain/errors"
)

// Complete is the completion primitive. It never returns to the guest: the
// engine unwinds on ErrGuestHalted and reports the invocation as completed.
func Complete(HostContext, []uint64) (uint64, error) {
	return 0, errors.ErrGuestHalted
}

// ExtAdd adds two 32-bit integers with wrap-around.
func ExtAdd(_ HostContext, args []uint64) (uint64, error) {
	sum := ArgInt32(args, 0) + ArgInt32(args, 1)
	return uint64(uint32(sum)), nil
}
