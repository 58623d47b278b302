package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gentam/nandc"
)

func newLayoutCmd(g *globalFlags) *cobra.Command {
	var p nandc.LayoutParams
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Print the OOB layout",
		Long:  "Print the OOB layout of the attached chip, or of the geometry given with --level",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("level") {
				printLayout(cmd.OutOrStdout(), nandc.BuildLayout(p))
				return nil
			}
			s, err := g.open()
			if err != nil {
				return err
			}
			defer s.Close()
			printLayout(cmd.OutOrStdout(), s.host.Layout())
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&p.ECCLevel, "level", 0, "ECC_LEVEL (15 with --spare 16 selects Hamming)")
	f.IntVar(&p.PageSize, "page-size", 2048, "page size in bytes")
	f.IntVar(&p.SpareAreaSize, "spare", 16, "spare bytes per 512-byte unit")
	f.BoolVar(&p.SectorSize1K, "1k", false, "1KiB ECC sectors")
	return cmd
}

func printLayout(w io.Writer, l *nandc.Layout) {
	fmt.Fprintf(w, "ECC bytes: %d\n", l.ECCBytes)
	fmt.Fprintf(w, "ECC pos:   %s\n", ranges(l.ECCPos))
	free := make([]string, len(l.Free))
	for i, f := range l.Free {
		free[i] = fmt.Sprintf("%d+%d", f.Offset, f.Length)
	}
	fmt.Fprintf(w, "Free:      %s\n", strings.Join(free, " "))
	fmt.Fprintf(w, "Available: %d\n", l.OOBAvail)
}

// ranges compresses sorted positions into "a-b" runs.
func ranges(pos []int) string {
	var parts []string
	for i := 0; i < len(pos); {
		j := i
		for j+1 < len(pos) && pos[j+1] == pos[j]+1 {
			j++
		}
		if i == j {
			parts = append(parts, fmt.Sprint(pos[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", pos[i], pos[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, " ")
}
