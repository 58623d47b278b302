package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"

	"github.com/gentam/nandc"
)

var newScreen = func() (tcell.Screen, error) { return tcell.NewScreen() }

func newBrowseCmd(g *globalFlags) *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Page through the flash in a terminal UI",
		Long:  "Page through the flash. n/PgDn next page, p/PgUp previous, r toggles raw reads, q quits.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.open()
			if err != nil {
				return err
			}
			defer s.Close()

			scr, err := newScreen()
			if err != nil {
				return err
			}
			if err := scr.Init(); err != nil {
				return err
			}
			defer scr.Fini()
			scr.DisableMouse()

			b := &browser{s: scr, h: s.host, page: page}
			b.run()
			return nil
		},
	}
	cmd.Flags().IntVarP(&page, "page", "p", 0, "first page")
	return cmd
}

// browser draws one page at a time: a hexdump of the data area followed by
// the OOB bytes with ECC positions highlighted.
type browser struct {
	s    tcell.Screen
	h    *nandc.Host
	page int
	raw  bool
	top  int // first hexdump line shown
}

func (b *browser) run() {
	for {
		b.draw()
		if b.handle(b.s.PollEvent()) {
			return
		}
	}
}

// handle applies one event and reports whether the browser should exit.
func (b *browser) handle(ev tcell.Event) (quit bool) {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		b.s.Sync()
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEscape, tcell.KeyCtrlC:
			return true
		case tcell.KeyPgDn:
			b.move(1)
		case tcell.KeyPgUp:
			b.move(-1)
		case tcell.KeyDown:
			b.top++
		case tcell.KeyUp:
			b.top = max(b.top-1, 0)
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'q':
				return true
			case 'n':
				b.move(1)
			case 'p':
				b.move(-1)
			case 'r':
				b.raw = !b.raw
			}
		}
	}
	return false
}

func (b *browser) move(d int) {
	p := b.page + d
	if p < 0 || p >= b.h.Pages() {
		return
	}
	b.page, b.top = p, 0
}

// load reads the current page and describes the outcome.
func (b *browser) load() (data, oob []byte, status string) {
	data = make([]byte, b.h.PageSize())
	oob = make([]byte, b.h.OOBSize())
	if b.raw {
		if err := b.h.ReadPageRaw(b.page, data, oob); err != nil {
			return data, oob, err.Error()
		}
		return data, oob, "raw"
	}
	n, err := b.h.ReadPage(b.page, data, oob)
	var eccErr *nandc.ECCError
	switch {
	case errors.As(err, &eccErr):
		return data, oob, "uncorrectable"
	case err != nil:
		return data, oob, err.Error()
	case n > 0:
		return data, oob, fmt.Sprintf("%d bitflips corrected", n)
	}
	return data, oob, "ok"
}

func (b *browser) draw() {
	b.s.Clear()
	w, h := b.s.Size()
	data, oob, status := b.load()

	title := fmt.Sprintf(" %s  page %d/%d  %s ", b.h.Chip().Name, b.page, b.h.Pages()-1, status)
	putStr(b.s, 0, 0, strings.Repeat("═", w), tcell.StyleDefault)
	putStr(b.s, max((w-len(title))/2, 0), 0, title, tcell.StyleDefault.Bold(true))

	oobRows := (len(oob) + 15) / 16
	lines := strings.Split(strings.TrimSuffix(hex.Dump(data), "\n"), "\n")
	avail := max(h-oobRows-3, 1)
	b.top = min(b.top, max(len(lines)-avail, 0))
	y := 1
	for _, l := range lines[b.top:min(b.top+avail, len(lines))] {
		putStr(b.s, 0, y, l, tcell.StyleDefault)
		y++
	}

	putStr(b.s, 0, y, strings.Repeat("─", w), tcell.StyleDefault)
	putStr(b.s, 2, y, " OOB ", tcell.StyleDefault)
	y++
	l := b.h.Layout()
	ecc := tcell.StyleDefault.Foreground(tcell.ColorYellow)
	for i, v := range oob {
		x, row := 10+(i%16)*3, y+i/16
		if i%16 == 0 {
			putStr(b.s, 0, row, fmt.Sprintf("%08x", i), tcell.StyleDefault)
		}
		st := tcell.StyleDefault
		if l.IsECC(i) {
			st = ecc
		}
		putStr(b.s, x, row, fmt.Sprintf("%02x", v), st)
	}
	putStr(b.s, 0, h-1, "n/p page  ↑/↓ scroll  r raw  q quit", tcell.StyleDefault.Reverse(true))
	b.s.Show()
}

func putStr(s tcell.Screen, x, y int, str string, st tcell.Style) {
	w, _ := s.Size()
	for i, r := range []rune(str) {
		if x+i >= w {
			break
		}
		s.SetContent(x+i, y, r, nil, st)
	}
}
