package nandc

import "github.com/gentam/nandc/internal/regs"

// Version is the controller core revision as 10*major + minor.
type Version = regs.Version

// Supported controller revisions.
const (
	V40 = regs.V40
	V50 = regs.V50
	V60 = regs.V60
	V70 = regs.V70
	V71 = regs.V71
)

// Bus is the controller's 32-bit register space.
//
// Backends map it onto memory-mapped I/O, a bridge on a serial link or a
// simulation. Calls are serialised by the Controller.
type Bus interface {
	ReadReg(off uint32) (uint32, error)
	WriteReg(off, val uint32) error
}

// DMA is the optional FLASH_DMA block. Its ReadReg/WriteReg address the
// FLASH_DMA register block.
type DMA interface {
	Bus

	// CanMap reports whether buf can be handed to the engine directly.
	// Buffers living in mappings the engine cannot reach must be refused.
	CanMap(buf []byte) bool

	// Map makes buf visible to the engine and returns its bus address.
	// The engine may read or write buf until Unmap.
	Map(buf []byte, toDevice bool) (uint64, error)
	Unmap(addr uint64) error

	// Descriptor returns the bus address and backing memory of the
	// descriptor slot owned by the driver.
	Descriptor() (addr uint64, mem []byte)
}

// Interrupt identifies a controller interrupt line.
type Interrupt uint8

const (
	InterruptCtlReady Interrupt = iota + 1 // NAND_CTLRDY: native command done
	InterruptDMADone                       // FLASH_DMA_DONE
)

func (i Interrupt) String() string {
	switch i {
	case InterruptCtlReady:
		return "ctlrdy"
	case InterruptDMADone:
		return "dma_done"
	default:
		return "unknown"
	}
}

// InterruptSource is implemented by backends that can deliver interrupts.
// Without it the Controller polls INTFC_STATUS for completion.
type InterruptSource interface {
	SetInterruptHandler(func(Interrupt))
}
