package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEraseCmd(g *globalFlags) *cobra.Command {
	var (
		page   int
		blocks int
	)
	cmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase blocks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.open()
			if err != nil {
				return err
			}
			defer s.Close()

			h := s.host
			perBlock := h.Chip().EraseSize / h.PageSize()
			first := page - page%perBlock
			for b := 0; b < blocks; b++ {
				p := first + b*perBlock
				if err := h.EraseBlock(p); err != nil {
					return fmt.Errorf("erase at page %d failed: %w", p, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "erased %d blocks at page %d\n", blocks, first)
			return nil
		},
	}
	cmd.Flags().IntVarP(&page, "page", "p", 0, "a page inside the first block")
	cmd.Flags().IntVarP(&blocks, "count", "n", 1, "number of blocks")
	return cmd
}
