// Package nandsim simulates a brcmnand controller, its FLASH_DMA block and
// one attached NAND chip behind the nandc.Bus and nandc.DMA interfaces.
//
// # Register model
//
// Registers live in a sparse map. Writes to CMD_START execute the native
// command immediately and raise NAND_CTLRDY through the installed
// interrupt handler; INTFC_STATUS always reports the controller ready
// unless the simulator is stalled. The flash cache and the sideband
// window are the same registers the driver uses, so a PAGE_READ fills
// FLASH_CACHE and SPARE_AREA_READ words and a PROGRAM_PAGE consumes the
// FLASH_CACHE and SPARE_AREA_WRITE words.
//
// # ECC model
//
// Programming with ACC_CONTROL.WR_ECC_EN set stores a parity signature in
// the last ECC bytes of every step and remembers the programmed step in a
// shadow copy. A read with RD_ECC_EN set compares the cells against that
// shadow: up to the configured strength of flipped bits is corrected, more
// is uncorrectable. Steps never programmed with ECC read clean when fully
// erased and uncorrectable otherwise, which is what a real core reports
// for an erased page with bitflips.
//
// Register-path reads that hit an uncorrectable step leave a flag behind
// that makes the next FLASH_DMA read report ECC_ERROR once, as some cores
// do.
//
// # Faults
//
// FlipBit, SetProgramFail, SetStall and SetDMAReject inject the failures the
// driver must survive.
//
// # Persistence
//
// Open keeps the flash image in a file, memory-mapped where the platform
// supports it, so an image survives across runs of the nandc command.
package nandsim
