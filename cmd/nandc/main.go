// Command nandc exercises the brcmnand engine against a simulated flash
// image or a controller behind an FT2232H SPI register bridge.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gentam/nandc"
	"github.com/gentam/nandc/internal/config"
	"github.com/gentam/nandc/nandsim"
)

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fatalf("%v", err)
	}
}

// globalFlags override the board config file.
type globalFlags struct {
	config  string
	image   string
	chip    string
	cs      int
	version string
	verbose bool
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "nandc",
		Short:         "brcmnand page transfer and ECC layout bench tool",
		Long:          "Read, write and erase NAND pages through the brcmnand engine, on a simulated image or over an FT2232H bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.config, "config", "c", "", "board config file (YAML)")
	pf.StringVar(&g.image, "image", "", "simulated flash image file (sim backend)")
	pf.StringVar(&g.chip, "chip", "", "known chip name, see 'nandc info --chips'")
	pf.IntVar(&g.cs, "cs", -1, "chip select (default from config)")
	pf.StringVar(&g.version, "ctrl-version", "", "controller version, e.g. 7.1")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newInfoCmd(&g),
		newLayoutCmd(&g),
		newReadCmd(&g),
		newWriteCmd(&g),
		newEraseCmd(&g),
		newBrowseCmd(&g),
	)
	return root
}

// loadConfig merges the config file with the command line.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if g.config != "" {
		var err error
		if cfg, err = config.Load(g.config); err != nil {
			return nil, err
		}
	}
	if g.image != "" {
		cfg.Sim.Image = g.image
	}
	if g.chip != "" {
		cfg.Chip = config.ChipConfig{Select: cfg.Chip.Select, Name: g.chip}
	}
	if g.cs >= 0 {
		cfg.Chip.Select = g.cs
	}
	if g.version != "" {
		cfg.Controller.Version = g.version
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	config.Normalize(cfg)
	if g.verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// session is an attached chip select and whatever must be released with it.
type session struct {
	cfg   *config.Config
	ctrl  *nandc.Controller
	host  *nandc.Host
	close func() error
}

func (g *globalFlags) open() (*session, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	nandc.SetLogLevel(cfg.Level())

	opts := cfg.Options()
	chip := cfg.ChipInfo()
	s := &session{cfg: cfg, close: func() error { return nil }}

	var (
		bus nandc.Bus
		dma nandc.DMA
	)
	switch cfg.Backend {
	case "ftdi":
		b, err := nandc.NewBridge(cfg.SPIClock())
		if err != nil {
			return nil, fmt.Errorf("failed to open bridge: %w", err)
		}
		if opts.WPMode != nandc.WPUnused {
			opts.WPPin = b.WPPin()
		}
		bus, s.close = b.Bus(), b.Close
	default:
		simOpts := nandsim.Options{Version: opts.Version}
		var sim *nandsim.Sim
		if cfg.Sim.Image != "" {
			if sim, err = nandsim.Open(cfg.Sim.Image, chip, simOpts); err != nil {
				return nil, err
			}
		} else {
			sim = nandsim.New(chip, simOpts)
		}
		bus, dma, s.close = sim, sim.DMA(), sim.Close
	}

	s.ctrl, err = nandc.NewController(bus, dma, opts)
	if err != nil {
		s.close()
		return nil, err
	}
	s.host, err = s.ctrl.Attach(cfg.Chip.Select, chip)
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) Close() error {
	haltErr := s.ctrl.Halt()
	if err := s.close(); err != nil {
		return err
	}
	return haltErr
}
