package nandc

import (
	"fmt"
	"strings"
)

// Status is the NAND status byte returned by STATUS_READ and latched in
// INTFC_STATUS after every command.
//
//	Bits| ONFI status
//	----+------------------------------------------
//	7   | WP#: 1 = not write protected
//	6   | RDY: ready for another command
//	5   | ARDY: array operation finished
//	4:2 | reserved
//	1   | FAILC: previous operation failed
//	0   | FAIL: last program or erase failed
type Status byte

func (s Status) Writable() bool     { return s&(1<<7) != 0 }
func (s Status) Ready() bool        { return s&(1<<6) != 0 }
func (s Status) ArrayReady() bool   { return s&(1<<5) != 0 }
func (s Status) PreviousFail() bool { return s&(1<<1) != 0 }
func (s Status) Failed() bool       { return s&(1<<0) != 0 }

func (s Status) String() string {
	b := fmt.Sprintf("%08b", byte(s))
	f := []string{}
	if s.Writable() {
		f = append(f, "WP#")
	}
	if s.Ready() {
		f = append(f, "RDY")
	}
	if s.ArrayReady() {
		f = append(f, "ARDY")
	}
	if s.PreviousFail() {
		f = append(f, "FAILC")
	}
	if s.Failed() {
		f = append(f, "FAIL")
	}
	if len(f) == 0 {
		return b
	}
	return b + " " + strings.Join(f, ",")
}
