// Package nandc drives the Broadcom STB NAND controller (brcmnand) and its
// FLASH_DMA engine: page transfers through the flash cache or by DMA, the
// BCH/Hamming OOB layout, ECC error classification with erased-page
// detection, and per chip-select configuration.
//
// A Controller owns the register space behind a Bus; Attach binds a chip
// select to a Host that serves page I/O. Backends are a simulator (package
// nandsim) and an FT2232H SPI register bridge (Bridge).
//
// # References:
//
// Broadcom
//   - [brcmnand]: Linux drivers/mtd/nand/raw/brcmnand (https://git.kernel.org/pub/scm/linux/kernel/git/torvalds/linux.git/tree/drivers/mtd/nand/raw/brcmnand)
//   - [brcm,brcmnand]: Device tree binding (https://www.kernel.org/doc/Documentation/devicetree/bindings/mtd/brcm%2Cbrcmnand.yaml)
//
// FTDI (https://ftdichip.com/document/application-notes/)
//   - [FTDI-AN_114]: Interfacing FT2232H Hi-Speed Devices To SPI Bus (https://ftdichip.com/wp-content/uploads/2020/08/AN_114_FTDI_Hi_Speed_USB_To_SPI_Example.pdf)
//   - [FTDI-AN_135]: FTDI MPSSE Basics (https://ftdichip.com/wp-content/uploads/2020/08/AN_135_MPSSE_Basics.pdf)
//   - [FTDI-DS_FT2232H]: FT2232H Hi-Speed Dual USB UART/FIFO IC Data Sheet (https://ftdichip.com/wp-content/uploads/2024/09/DS_FT2232H.pdf)
//
// NAND Flash
//   - [K9F1208]: Samsung K9F1208U0C 64M x 8 Bit NAND Flash Memory datasheet
//   - [S34ML01G1]: Spansion S34ML01G1 1 Gbit 3V NAND Flash datasheet
//   - [MT29F2G08]: Micron MT29F2G08AAB NAND Flash Memory datasheet
//   - [TC58NVG2S0]: Toshiba TC58NVG2S0H 4 Gbit NAND Flash datasheet
//   - [ONFI]: Open NAND Flash Interface Specification (https://www.onfi.org/specifications)
package nandc
