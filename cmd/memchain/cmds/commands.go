package cmds

import (
	"context"
	"errors"
	"fmt"
	"os"

	"memchain/config"
	"memchain/hexdump"
	"memchain/process"
	"memchain/process/memory_map"
	"memchain/process_blob"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

// maxPeekSize bounds the hex dump a single peek prints.
const maxPeekSize = 1 << 20

const memchainLongDesc = `memchain reads and writes values in another process's memory by following
pointer chains from the process's base address, the start of its first
executable region.

A chain is a list of offsets, e.g. --offsets 0x10,0x18,0x4. In deref mode
(the default) every offset but the last is added and the 8 byte pointer
stored there is followed; the last offset is only added. In flat mode the
offsets are summed. Text reads always use flat mode.

Targets are selected with --name (the last process with that name), --pid,
or --dump for a directory written by 'memchain dump'.`

// app holds the flags and state shared by all commands.
type app struct {
	configPath string
	name       string
	pid        int
	dumpDir    string
	transport  string
	readOnly   bool
	colorMode  string
	trace      bool

	offsets   process.Offsets
	mode      string
	maxLength uint

	conf *config.Config
	out  printer
	log  *logger.Logger
}

// New returns the memchain root command.
func New() *cobra.Command {
	a := &app{
		log: logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "memchain")),
	}

	rootCommand := &cobra.Command{
		Use:           "memchain",
		Short:         "Follow pointer chains in another process's memory.",
		Long:          memchainLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := rootCommand.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/memchain/config.yml)")
	pf.StringVarP(&a.name, "name", "n", "", "Target process name")
	pf.IntVarP(&a.pid, "pid", "p", 0, "Target process ID")
	pf.StringVar(&a.dumpDir, "dump", "", "Use a saved dump directory as the target")
	pf.StringVar(&a.transport, "transport", "", "Memory transport: vm or procmem (overrides config)")
	pf.BoolVar(&a.readOnly, "read-only", false, "Attach without write access")
	pf.StringVar(&a.colorMode, "color", "auto", "Colorize output: auto, always or never")
	pf.BoolVar(&a.trace, "trace", false, "Print every dereference of the chain")

	chainFlags := func(cmd *cobra.Command, withMode bool) {
		cmd.Flags().VarP(newOffsetsValue(&a.offsets), "offsets", "o", "Comma separated chain offsets, hex (0x) or decimal")
		if withMode {
			cmd.Flags().StringVar(&a.mode, "mode", "deref", "Chain mode: deref or flat")
		}
	}

	pidCommand := &cobra.Command{
		Use:   "pid NAME",
		Short: "Print the process ID chosen for NAME.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCoordinator(a.conf, true)
			if err != nil {
				return err
			}
			pid, err := c.FindPID(args[0])
			if err != nil {
				return err
			}
			a.out.printf("%d\n", pid)
			return nil
		},
	}
	rootCommand.AddCommand(pidCommand)

	baseCommand := &cobra.Command{
		Use:   "base",
		Short: "Print the target's base address.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, a.name, func(ctx context.Context, s *process.Session) error {
				a.out.printf("pid %d base %s\n", s.PID(), a.out.addr(s.Base()))
				return nil
			})
		},
	}
	rootCommand.AddCommand(baseCommand)

	regionsCommand := &cobra.Command{
		Use:   "regions",
		Short: "List the target's memory regions.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, a.name, func(ctx context.Context, s *process.Session) error {
				ctx, cancel := a.scanContext(ctx)
				defer cancel()
				regions, err := s.ListRegions(ctx)
				if err != nil {
					return err
				}
				return a.out.regions(regions)
			})
		},
	}
	rootCommand.AddCommand(regionsCommand)

	readCommand := &cobra.Command{
		Use:   "read",
		Short: "Read the u64 at the end of a chain.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := process.ParseChainMode(a.mode)
			if err != nil {
				return err
			}
			return a.withSession(cmd, a.name, func(ctx context.Context, s *process.Session) error {
				return a.read(ctx, s, mode, a.offsets)
			})
		},
	}
	chainFlags(readCommand, true)
	rootCommand.AddCommand(readCommand)

	writeCommand := &cobra.Command{
		Use:   "write VALUE",
		Short: "Write a u64 at the end of a chain.",
		Long:  "Write VALUE (decimal, 0x hex, or negative decimal) as a native order u64 at the end of the chain.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := process.ParseChainMode(a.mode)
			if err != nil {
				return err
			}
			value, err := parseValue(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd, a.name, func(ctx context.Context, s *process.Session) error {
				return a.write(ctx, s, mode, a.offsets, value)
			})
		},
	}
	chainFlags(writeCommand, true)
	rootCommand.AddCommand(writeCommand)

	textCommand := &cobra.Command{
		Use:   "text",
		Short: "Read a null terminated string at base plus the summed offsets.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, a.name, func(ctx context.Context, s *process.Session) error {
				return a.text(ctx, s, a.offsets, a.maxLength)
			})
		},
	}
	chainFlags(textCommand, false)
	textCommand.Flags().UintVar(&a.maxLength, "max-length", 0, "Maximum bytes to read (default from config)")
	rootCommand.AddCommand(textCommand)

	peekCommand := &cobra.Command{
		Use:   "peek SIZE",
		Short: "Hex dump SIZE bytes at the end of a chain.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := process.ParseChainMode(a.mode)
			if err != nil {
				return err
			}
			size, err := process.ParseOffset(args[0])
			if err != nil {
				return err
			}
			if size == 0 || size > maxPeekSize {
				return fmt.Errorf("peek size %s out of range, 1 B to %s", args[0], humanize.IBytes(maxPeekSize))
			}
			return a.withSession(cmd, a.name, func(ctx context.Context, s *process.Session) error {
				return a.peek(ctx, s, mode, a.offsets, process.ProcessMemorySize(size))
			})
		},
	}
	chainFlags(peekCommand, true)
	rootCommand.AddCommand(peekCommand)

	dumpCommand := &cobra.Command{
		Use:   "dump DIR",
		Short: "Save the target's readable memory to DIR for offline use with --dump.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, a.name, func(ctx context.Context, s *process.Session) error {
				stats, err := process_blob.SaveDump(ctx, s.Handle(), args[0], process_blob.SaveOptions{Name: a.name})
				if err != nil {
					return err
				}
				a.out.printf("saved %d regions to %s (%d unreadable, %d too large, %d failed)\n",
					stats.Saved, args[0], stats.SkippedNonReadable, stats.SkippedTooLarge, stats.ReadErrors)
				return nil
			})
		},
	}
	rootCommand.AddCommand(dumpCommand)

	chainCommand := &cobra.Command{
		Use:   "chain PROFILE CHAIN [VALUE]",
		Short: "Read or write a chain named in the config file.",
		Long: `Resolve CHAIN from PROFILE in the config file. The profile's process is the
target unless --name, --pid or --dump is given. Chains with a max-length are
read as text; otherwise the u64 is read, or written when VALUE is given.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChain(cmd, args)
		},
	}
	rootCommand.AddCommand(chainCommand)

	configCommand := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(a.conf)
			if err != nil {
				return err
			}
			a.out.printf("# %s\n%s", a.resolvedConfigPath(), out)
			return nil
		},
	}
	configCommand.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file if none exists.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.resolvedConfigPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.SaveConfig(config.Default(), path); err != nil {
				return err
			}
			a.out.printf("wrote %s\n", path)
			return nil
		},
	})
	rootCommand.AddCommand(configCommand)

	return rootCommand
}

func (a *app) resolvedConfigPath() string {
	if a.configPath != "" {
		return a.configPath
	}
	path, err := config.DefaultPath()
	if err != nil {
		return ""
	}
	return path
}

func (a *app) setup(cmd *cobra.Command) error {
	a.out = newPrinter(cmd.OutOrStdout(), a.colorMode)

	path := a.resolvedConfigPath()
	if path == "" {
		a.conf = config.Default()
	} else {
		conf, err := config.Load(path)
		if err != nil {
			return err
		}
		a.conf = conf
	}

	if a.transport != "" {
		a.conf.Transport = a.transport
	}
	if a.readOnly {
		a.conf.ReadOnly = true
	}

	targets := 0
	for _, set := range []bool{a.name != "", a.pid != 0, a.dumpDir != ""} {
		if set {
			targets++
		}
	}
	if targets > 1 {
		return errors.New("--name, --pid and --dump are mutually exclusive")
	}
	return nil
}

func (a *app) scanContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.conf.ScanTimeout > 0 {
		return context.WithTimeout(ctx, a.conf.ScanTimeout)
	}
	return context.WithCancel(ctx)
}

// openSession attaches to the selected target. processName is used when
// neither --pid nor --dump is set.
func (a *app) openSession(ctx context.Context, processName string) (*process.Session, error) {
	ctx, cancel := a.scanContext(ctx)
	defer cancel()

	switch {
	case a.dumpDir != "":
		if !process_blob.IsDump(a.dumpDir) {
			return nil, fmt.Errorf("%s is not a memchain dump, write one with the dump command", a.dumpDir)
		}
		dump, err := process_blob.LoadDump(a.dumpDir)
		if err != nil {
			return nil, err
		}
		dump.Options = a.conf.ScanOptions()
		a.log.Debugln("Loaded dump", a.dumpDir, "of", dump.Name, "pid", dump.PID)
		return process.NewSession(ctx, dump)

	case a.pid != 0:
		c, err := newCoordinator(a.conf, a.conf.ReadOnly)
		if err != nil {
			return nil, err
		}
		return c.OpenPID(ctx, process.ProcessID(a.pid))

	case processName != "":
		c, err := newCoordinator(a.conf, a.conf.ReadOnly)
		if err != nil {
			return nil, err
		}
		return c.Open(ctx, processName)
	}

	return nil, errors.New("no target: pass --name, --pid or --dump")
}

func (a *app) withSession(cmd *cobra.Command, processName string, fn func(ctx context.Context, s *process.Session) error) error {
	ctx := cmd.Context()
	s, err := a.openSession(ctx, processName)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

// resolve walks offsets once under mode. With --trace every dereference is
// printed as it happens.
func (a *app) resolve(ctx context.Context, s *process.Session, mode process.ChainMode, offsets process.Offsets) (process.ProcessMemoryAddress, error) {
	if !a.trace {
		cell, err := s.Resolve(ctx, mode, offsets)
		return cell.Address, err
	}

	a.out.printf("base %s chain %v (%s)\n", a.out.addr(s.Base()), offsets, mode)
	if mode != process.ChainDereference {
		return process.ResolveFlat(s.Base(), offsets), nil
	}
	return process.ResolveDereferencingTrace(ctx, s.Handle(), s.Base(), offsets, a.out.traceStep)
}

func (a *app) read(ctx context.Context, s *process.Session, mode process.ChainMode, offsets process.Offsets) error {
	addr, err := a.resolve(ctx, s, mode, offsets)
	if err != nil {
		return err
	}
	value, err := process.ReadUINT64(s.Handle(), addr)
	if err != nil {
		return err
	}

	a.out.value("value", value)
	return nil
}

func (a *app) write(ctx context.Context, s *process.Session, mode process.ChainMode, offsets process.Offsets, value uint64) error {
	addr, err := a.resolve(ctx, s, mode, offsets)
	if err != nil {
		return err
	}
	if err := process.WriteUINT64(s.Handle(), addr, value); err != nil {
		return err
	}

	a.out.value("wrote", value)
	return nil
}

func (a *app) text(ctx context.Context, s *process.Session, offsets process.Offsets, maxLength uint) error {
	if maxLength == 0 {
		maxLength = a.conf.MaxTextLength
	}
	if a.trace {
		a.out.printf("base %s chain %v (%s)\n", a.out.addr(s.Base()), offsets, process.ChainFlat)
	}

	text, err := s.ReadText(ctx, offsets, process.ProcessMemorySize(maxLength))
	if err != nil {
		return err
	}
	a.out.printf("%s\n", text)
	return nil
}

func (a *app) peek(ctx context.Context, s *process.Session, mode process.ChainMode, offsets process.Offsets, size process.ProcessMemorySize) error {
	addr, err := a.resolve(ctx, s, mode, offsets)
	if err != nil {
		return err
	}
	data, err := s.Handle().ReadMemory(addr, size)
	if err != nil {
		return &process.AccessError{Op: "read", Address: addr, Size: size, Err: err}
	}

	var regions []memory_map.MemoryRegion
	scanCtx, cancel := a.scanContext(ctx)
	defer cancel()
	if it, err := s.Handle().Regions(scanCtx); err == nil {
		if regions, err = memory_map.Collect(it); err != nil {
			a.log.Debugln("Pointer annotation disabled:", err)
			regions = nil
		}
	}

	a.out.printf("%s, %s\n", a.out.addr(addr), humanize.IBytes(uint64(size)))
	opts := hexdump.DefaultOptions()
	opts.Color = a.out.color
	opts.Regions = regions
	return hexdump.Dump(a.out.w, data, uint64(addr), opts)
}

func (a *app) runChain(cmd *cobra.Command, args []string) error {
	profile, chain, err := a.conf.Chain(args[0], args[1])
	if err != nil {
		return err
	}
	mode, err := chain.ChainMode()
	if err != nil {
		return err
	}
	offsets := process.Offsets(chain.Offsets)

	processName := a.name
	if processName == "" {
		processName = profile.Process
	}

	var value uint64
	write := len(args) == 3
	if write {
		if chain.MaxLength > 0 {
			return fmt.Errorf("chain %s is a text chain and cannot be written", args[1])
		}
		if value, err = parseValue(args[2]); err != nil {
			return err
		}
	}

	return a.withSession(cmd, processName, func(ctx context.Context, s *process.Session) error {
		switch {
		case chain.MaxLength > 0:
			return a.text(ctx, s, offsets, chain.MaxLength)
		case write:
			return a.write(ctx, s, mode, offsets, value)
		}
		return a.read(ctx, s, mode, offsets)
	})
}
