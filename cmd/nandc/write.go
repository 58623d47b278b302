package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newWriteCmd(g *globalFlags) *cobra.Command {
	var (
		page    int
		raw     bool
		inFile  string
		oobFile string
	)
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Program pages from a file",
		Long:  "Program consecutive pages from a file. The last page is padded with 0xff; the block must be erased first.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if inFile == "" && oobFile == "" {
				return errors.New("nothing to write: need --input or --oob-file")
			}
			s, err := g.open()
			if err != nil {
				return err
			}
			defer s.Close()
			h := s.host

			var oob []byte
			if oobFile != "" {
				b, err := os.ReadFile(oobFile)
				if err != nil {
					return err
				}
				oob = pad(b, h.OOBSize())
			}

			if inFile == "" {
				if raw {
					return h.WriteOOBRaw(page, oob)
				}
				return h.WriteOOB(page, oob)
			}

			data, err := os.ReadFile(inFile)
			if err != nil {
				return err
			}
			n := 0
			for off := 0; off < len(data) || off == 0; off += h.PageSize() {
				buf := pad(data[off:min(off+h.PageSize(), len(data))], h.PageSize())
				if raw {
					err = h.WritePageRaw(page+n, buf, oob)
				} else {
					err = h.WritePage(page+n, buf, oob)
				}
				if err != nil {
					return fmt.Errorf("write page %d failed: %w", page+n, err)
				}
				oob = nil // only the first page gets the OOB file
				n++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d pages at page %d\n", n, page)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVarP(&page, "page", "p", 0, "first page")
	f.BoolVar(&raw, "raw", false, "write without ECC")
	f.StringVarP(&inFile, "input", "i", "", "data file")
	f.StringVar(&oobFile, "oob-file", "", "OOB bytes for the first page")
	return cmd
}

// pad returns b extended to n bytes with 0xff.
func pad(b []byte, n int) []byte {
	out := make([]byte, n)
	m := copy(out, b)
	for i := m; i < n; i++ {
		out[i] = 0xff
	}
	return out
}
