package nandsim

import (
	"fmt"

	"github.com/gentam/nandc"
	"github.com/gentam/nandc/internal/regs"
)

// image holds the NAND array. The backing memory is laid out as
//
//	raw    | pages * (page + oob) bytes as they sit in the cells
//	shadow | pages * (page + oob) bytes as last programmed with ECC
//	flags  | pages * units bytes, 1 = unit covered by ECC parity
//
// so a file-backed image keeps the ECC state across runs.
type image struct {
	pageSize  int
	oobSize   int
	pages     int
	perBlock  int
	units     int
	pageBytes int

	mem    []byte
	raw    []byte
	shadow []byte
	flags  []byte

	sync  func() error
	close func() error
}

func imageSize(chip nandc.ChipInfo) int64 {
	pages := int64(chip.Size / uint64(chip.WriteSize))
	units := int64(chip.WriteSize >> regs.FCShift)
	return 2*pages*int64(chip.WriteSize+chip.OOBSize) + pages*units
}

func newImage(chip nandc.ChipInfo, mem []byte) *image {
	img := &image{
		pageSize:  chip.WriteSize,
		oobSize:   chip.OOBSize,
		pages:     int(chip.Size / uint64(chip.WriteSize)),
		perBlock:  chip.EraseSize / chip.WriteSize,
		units:     chip.WriteSize >> regs.FCShift,
		pageBytes: chip.WriteSize + chip.OOBSize,
		mem:       mem,
		sync:      func() error { return nil },
		close:     func() error { return nil },
	}
	n := img.pages * img.pageBytes
	img.raw = mem[:n]
	img.shadow = mem[n : 2*n]
	img.flags = mem[2*n : 2*n+img.pages*img.units]
	return img
}

// memImage returns an erased in-memory image.
func memImage(chip nandc.ChipInfo) *image {
	img := newImage(chip, make([]byte, imageSize(chip)))
	img.eraseAll()
	return img
}

// fileImage maps the image file at path, creating an erased one when the
// file is new.
func fileImage(path string, chip nandc.ChipInfo) (*image, error) {
	size := imageSize(chip)
	mem, fresh, syncFn, closeFn, err := mapFile(path, size)
	if err != nil {
		return nil, fmt.Errorf("nandsim: map %s: %w", path, err)
	}
	img := newImage(chip, mem)
	img.sync, img.close = syncFn, closeFn
	if fresh {
		img.eraseAll()
	}
	return img, nil
}

func (img *image) eraseAll() {
	for b := 0; b < img.pages; b += img.perBlock {
		img.eraseBlock(b)
	}
}

// eraseBlock erases the block starting at page first.
func (img *image) eraseBlock(first int) {
	first -= first % img.perBlock
	lo, hi := first*img.pageBytes, (first+img.perBlock)*img.pageBytes
	fill(img.raw[lo:hi], 0xff)
	fill(img.shadow[lo:hi], 0xff)
	clear(img.flags[first*img.units : (first+img.perBlock)*img.units])
}

// page returns the data and OOB areas of page p in cells.
func (img *image) page(p int) (data, oob []byte) {
	b := img.raw[p*img.pageBytes : (p+1)*img.pageBytes]
	return b[:img.pageSize], b[img.pageSize:]
}

func (img *image) shadowPage(p int) (data, oob []byte) {
	b := img.shadow[p*img.pageBytes : (p+1)*img.pageBytes]
	return b[:img.pageSize], b[img.pageSize:]
}

func (img *image) encoded(p, unit int) bool { return img.flags[p*img.units+unit] != 0 }

func (img *image) setEncoded(p, unit int, on bool) {
	var v byte
	if on {
		v = 1
	}
	img.flags[p*img.units+unit] = v
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
