package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gentam/nandc"
)

func newReadCmd(g *globalFlags) *cobra.Command {
	var (
		page    int
		count   int
		raw     bool
		withOOB bool
		outFile string
	)
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read pages (hexdump or file)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.open()
			if err != nil {
				return err
			}
			defer s.Close()

			h := s.host
			var data []byte
			buf := make([]byte, h.PageSize())
			var oob []byte
			if withOOB {
				oob = make([]byte, h.OOBSize())
			}
			for p := page; p < page+count; p++ {
				if raw {
					err = h.ReadPageRaw(p, buf, oob)
				} else {
					var n int
					n, err = h.ReadPage(p, buf, oob)
					if n > 0 {
						fmt.Fprintf(cmd.ErrOrStderr(), "page %d: %d bitflips corrected\n", p, n)
					}
				}
				var eccErr *nandc.ECCError
				if errors.As(err, &eccErr) {
					fmt.Fprintf(cmd.ErrOrStderr(), "page %d: %v\n", p, err)
				} else if err != nil {
					return fmt.Errorf("read page %d failed: %w", p, err)
				}
				data = append(data, buf...)
				data = append(data, oob...)
			}

			if outFile == "" {
				fmt.Fprint(cmd.OutOrStdout(), hex.Dump(data))
				return nil
			}
			return os.WriteFile(outFile, data, 0644)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&page, "page", "p", 0, "first page")
	f.IntVarP(&count, "count", "n", 1, "number of pages")
	f.BoolVar(&raw, "raw", false, "read without ECC")
	f.BoolVar(&withOOB, "oob", false, "append the OOB area to each page")
	f.StringVarP(&outFile, "output", "o", "", "output file (default: hexdump)")
	return cmd
}
