package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/gentam/nandc"
)

func newInfoCmd(g *globalFlags) *cobra.Command {
	var chips bool
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show controller, chip and ECC configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if chips {
				known := nandc.KnownChips()
				ids := make([][2]byte, 0, len(known))
				for id := range known {
					ids = append(ids, id)
				}
				sort.Slice(ids, func(i, j int) bool {
					return ids[i][0] < ids[j][0] || ids[i][0] == ids[j][0] && ids[i][1] < ids[j][1]
				})
				for _, id := range ids {
					ci := known[id]
					fmt.Fprintf(out, "%X\t%s\t%dMiB %dKiB/%d+%d\n",
						id, ci.Name, ci.Size>>20, ci.EraseSize>>10, ci.WriteSize, ci.OOBSize)
				}
				return nil
			}

			s, err := g.open()
			if err != nil {
				return err
			}
			defer s.Close()

			h := s.host
			id, err := h.ReadID()
			if err != nil {
				return fmt.Errorf("read ID failed: %w", err)
			}
			st, err := h.Status()
			if err != nil {
				return fmt.Errorf("read status failed: %w", err)
			}
			path := "register"
			if s.ctrl.HasDMA() {
				path = "bulk (FLASH_DMA)"
			}

			fmt.Fprintf(out, "Controller:   %s\n", s.ctrl)
			fmt.Fprintf(out, "Transfers:    %s\n", path)
			fmt.Fprintf(out, "Chip select:  %d\n", h.ChipSelect())
			fmt.Fprintf(out, "Chip:         %s\n", h.Chip().Name)
			fmt.Fprintf(out, "ID:           %X\n", id)
			fmt.Fprintf(out, "Status:       %s\n", st)
			fmt.Fprintf(out, "Config:       %s\n", h.Config())
			fmt.Fprintf(out, "Strength:     %d bits per %d bytes\n", h.Strength(), h.Config().ECCSize())
			fmt.Fprintf(out, "OOB:          %d bytes, %d available\n", h.OOBSize(), h.Layout().OOBAvail)
			fmt.Fprintf(out, "Pages:        %d x %d bytes\n", h.Pages(), h.PageSize())
			stats := h.Stats()
			fmt.Fprintf(out, "ECC stats:    %d corrected, %d failed\n", stats.Corrected, stats.Failed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&chips, "chips", false, "list known chips and exit")
	return cmd
}
