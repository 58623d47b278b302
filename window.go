package nandc

// oobRegRead returns byte offs of the read window. Offsets past the window
// read as 0x77.
func (c *Controller) oobRegRead(offs int) (byte, error) {
	if offs >= c.ver.WindowSize() {
		return 0x77, nil
	}
	w, err := c.bus.ReadReg(c.ver.SpareRead(offs))
	if err != nil {
		return 0, err
	}
	return byte(w >> (24 - (uint(offs)&0x03)<<3)), nil
}

// oobRegWrite stores a whole window word. Offsets past the window are
// dropped.
func (c *Controller) oobRegWrite(offs int, data uint32) error {
	if offs >= c.ver.WindowSize() {
		return nil
	}
	return c.bus.WriteReg(c.ver.SpareWrite(offs), data)
}

// windowBytes is the number of window bytes used by flash cache unit i.
// With 1K sectors the odd half of a sector only gets what did not fit the
// window on the even half.
func (c *Controller) windowBytes(i, sas int, sector1K bool) int {
	tbytes := sas
	if sector1K {
		tbytes = sas << 1
		if i&1 != 0 {
			tbytes = max(0, tbytes-c.ver.WindowSize())
		}
	}
	return min(tbytes, c.ver.WindowSize())
}

// readWindow copies the OOB bytes of flash cache unit i into oob and
// returns the number of bytes copied.
func (c *Controller) readWindow(i int, oob []byte, sas int, sector1K bool) (int, error) {
	tbytes := min(c.windowBytes(i, sas, sector1K), len(oob))
	for j := 0; j < tbytes; j++ {
		b, err := c.oobRegRead(j)
		if err != nil {
			return j, err
		}
		oob[j] = b
	}
	return tbytes, nil
}

// writeWindow loads the write window from oob for flash cache unit i and
// returns the number of bytes it consumed. Bytes past the end of oob are
// written as 0xff.
func (c *Controller) writeWindow(i int, oob []byte, sas int, sector1K bool) (int, error) {
	tbytes := c.windowBytes(i, sas, sector1K)
	for j := 0; j < tbytes; j += 4 {
		var w uint32
		for k := 0; k < 4; k++ {
			b := byte(0xff)
			if j+k < len(oob) {
				b = oob[j+k]
			}
			w = w<<8 | uint32(b)
		}
		if err := c.oobRegWrite(j, w); err != nil {
			return j, err
		}
	}
	return min(tbytes, len(oob)), nil
}

// resetWriteWindow fills the whole write window with 0xff.
func (c *Controller) resetWriteWindow() error {
	for j := 0; j < c.ver.WindowSize(); j += 4 {
		if err := c.oobRegWrite(j, 0xffffffff); err != nil {
			return err
		}
	}
	return nil
}
