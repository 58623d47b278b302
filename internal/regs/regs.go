// Package regs describes the register space of the NAND controller and its
// FLASH_DMA companion block.
//
// Offsets follow the v6.0 register map; older cores are handled by the
// per-Version helpers. Every offset is a byte offset into a 32-bit register
// space.
package regs

// Controller register offsets.
const (
	Revision         = 0x000
	CmdStart         = 0x004
	CmdExtAddress    = 0x008
	CmdAddress       = 0x00c
	CmdEndAddress    = 0x010
	IntfcStatus      = 0x014
	CSNandSelect     = 0x018
	CSNandXOR        = 0x01c
	LLOp             = 0x020
	CS0Base          = 0x050
	CorrStatThresh   = 0x0c0
	UncorrErrorCount = 0x0fc
	CorrErrorCount   = 0x100
	ECCCorrExtAddr   = 0x10c
	ECCCorrAddr      = 0x110
	ECCUncExtAddr    = 0x114
	ECCUncAddr       = 0x118
	SpareRead10      = 0x130 // v5.x upper half of the read window
	SpareWrite10     = 0x140 // v5.x upper half of the write window
	FlashDeviceID    = 0x194
	FlashDeviceIDExt = 0x198
	LLRdData         = 0x19c
	SpareRead0       = 0x200
	SpareWrite0      = 0x280
	FlashCache0      = 0x400
)

// Per chip-select register block, relative to CS0Base + cs*Version.Spacing().
const (
	csAccControl = 0x00
	csConfig     = 0x04
	csTiming1    = 0x08
	csTiming2    = 0x0c
	csConfigExt  = 0x10 // v7.1+
)

// Flash cache geometry: one 512-byte page unit per PAGE_READ/PROGRAM_PAGE.
const (
	FCShift = 9
	FCBytes = 1 << FCShift
	FCWords = FCBytes >> 2
)

// FC returns the offset of the i'th flash cache word.
func FC(i int) uint32 { return FlashCache0 + uint32(i)<<2 }

// Native controller commands written to CMD_START.
const (
	CmdNull            = 0x00
	CmdPageRead        = 0x01
	CmdSpareAreaRead   = 0x02
	CmdStatusRead      = 0x03
	CmdProgramPage     = 0x04
	CmdProgramSpare    = 0x05
	CmdCopyBack        = 0x06
	CmdDeviceIDRead    = 0x07
	CmdBlockErase      = 0x08
	CmdFlashReset      = 0x09
	CmdBlocksLock      = 0x0a
	CmdBlocksLockDown  = 0x0b
	CmdBlocksUnlock    = 0x0c
	CmdReadLockStatus  = 0x0d
	CmdParameterRead   = 0x0e
	CmdParamChangeCol  = 0x0f
	CmdLowLevelOp      = 0x10
	CmdStartOpcodeBits = 24
)

// Field is a bit field inside a 32-bit register. Mask is in register
// position, not shifted down.
type Field struct {
	Shift uint
	Mask  uint32
}

func field(shift, width uint) Field {
	return Field{Shift: shift, Mask: (1<<width - 1) << shift}
}

// Get extracts the field value from a register word.
func (f Field) Get(reg uint32) uint32 { return (reg & f.Mask) >> f.Shift }

// Set returns reg with the field replaced by v.
func (f Field) Set(reg, v uint32) uint32 { return reg&^f.Mask | (v<<f.Shift)&f.Mask }

// INTFC_STATUS
var (
	IntfcCtlrReady   = field(31, 1)
	IntfcFlashReady  = field(30, 1)
	IntfcFlashStatus = field(0, 8)
)

// CS_NAND_SELECT
var (
	CSSelectAutoID = field(30, 1)
	CSSelectWP     = field(29, 1)
)

// CSSelectEnabled is the "bootloader configured this chip select" bit.
func CSSelectEnabled(cs int) uint32 { return 0x100 << cs }

// ACC_CONTROL
var (
	AccRdECCEn       = field(31, 1)
	AccWrECCEn       = field(30, 1)
	AccFastPgmRdin   = field(28, 1)
	AccRdErasedECCEn = field(27, 1)
	AccPartialPageEn = field(26, 1)
	AccPageHitEn     = field(24, 1)
	AccPrefetchEn    = field(23, 1)
	AccECCLevel      = field(16, 5)
	AccSectorSize1K  = field(7, 1)
	AccSpareAreaSize = field(0, 7)
)

// CONFIG
var (
	CfgBlockSize   = field(28, 3)
	CfgDeviceSize  = field(24, 4)
	CfgDeviceWidth = field(23, 1)
	CfgPageSize    = field(20, 2)
	CfgFulAdrBytes = field(16, 3)
	CfgColAdrBytes = field(12, 3)
	CfgBlkAdrBytes = field(8, 3)
)

// CONFIG_EXT (v7.1+)
var (
	CfgExtBlockSize = field(4, 8)
	CfgExtPageSize  = field(0, 4)
)

// LL_OP
var (
	LLOpReturnIdle = field(31, 1)
	LLOpCLE        = field(19, 1)
	LLOpALE        = field(18, 1)
	LLOpWE         = field(17, 1)
	LLOpRE         = field(16, 1)
	LLOpData       = field(0, 8)
)

// NAND status byte bits reported in IntfcFlashStatus.
const (
	StatusFail  = 0x01
	StatusReady = 0x40
	StatusWP    = 0x80
)

// FLASH_DMA register offsets, relative to the DMA block.
const (
	DMARevision      = 0x00
	DMAFirstDesc     = 0x04
	DMAFirstDescExt  = 0x08
	DMACtrl          = 0x0c
	DMAMode          = 0x10
	DMAStatus        = 0x14
	DMAIntDesc       = 0x18
	DMAIntDescExt    = 0x1c
	DMAErrorStatus   = 0x20
	DMACurrentDesc   = 0x24
	DMACurrentDescEx = 0x28
)

// FLASH_DMA CTRL bits.
const (
	DMACtrlRun  = 0x01
	DMACtrlWake = 0x02
)
