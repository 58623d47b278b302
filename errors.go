package nandc

import (
	"errors"
	"fmt"
)

var (
	// ErrIO is a hard I/O failure: the engine stalled or the flash reported a
	// failed operation. Page contents are undefined.
	ErrIO = errors.New("nand: I/O error")

	// ErrTimeout is returned when a command or DMA transfer does not complete
	// in time. It always travels wrapped together with ErrIO.
	ErrTimeout = errors.New("nand: timeout")

	// ErrUncorrectable means the page failed ECC and is not an erased page
	// with a few bitflips.
	ErrUncorrectable = errors.New("nand: uncorrectable ECC error")

	// ErrProgramFailed is reported when the chip sets NAND_STATUS_FAIL after a
	// program or erase.
	ErrProgramFailed = errors.New("nand: program/erase failed")

	// ErrBusy indicates a native command was issued while another one was
	// still pending.
	ErrBusy = errors.New("nand: command pending")

	// ErrNoDMA is returned when a bulk transfer is forced on a controller
	// without a FLASH_DMA block.
	ErrNoDMA = errors.New("nand: no FLASH_DMA engine")

	// ErrNotDMAable is returned by DMA backends for buffers they cannot map.
	ErrNotDMAable = errors.New("nand: buffer not DMA-able")

	// ErrInvalidConfig reports geometry the controller cannot encode.
	ErrInvalidConfig = errors.New("nand: invalid configuration")

	// ErrInvalidLayout reports an OOB layout that overlaps or overruns.
	ErrInvalidLayout = errors.New("nand: invalid OOB layout")

	// ErrBufferSize reports a caller buffer of the wrong length.
	ErrBufferSize = errors.New("nand: wrong buffer size")
)

// ECCError carries the flash address of an uncorrectable ECC failure.
type ECCError struct {
	Addr uint64
	Err  error
}

func (e *ECCError) Error() string {
	return fmt.Sprintf("%v at 0x%x", e.Err, e.Addr)
}

func (e *ECCError) Unwrap() error { return e.Err }

// timeoutError wraps ErrTimeout and ErrIO so both match errors.Is.
func timeoutError(format string, a ...any) error {
	return fmt.Errorf("%w: %w: "+format, append([]any{ErrIO, ErrTimeout}, a...)...)
}
