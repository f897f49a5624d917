package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	c "hugealloc/internal"
	"hugealloc/internal/alloc"
	"hugealloc/internal/config"
	"hugealloc/internal/iomgr"
	"hugealloc/internal/region"
	"hugealloc/internal/sizeclass"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	initialMiB	uint64
	numa		int
	minClass	uint64
	numClasses	int
	heap		bool
	uring		bool
	debug		bool
}

func main() {
	flags := &rootFlags{}
	defaults := config.Default()

	root := &cobra.Command{
		Use:			"hugealloc",
		Short:			"Hugepage-backed registered buffer allocator",
		SilenceUsage:	true,
		SilenceErrors:	true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if flags.debug { level = slog.LevelDebug }
			slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
				Level:      level,
				TimeFormat: time.TimeOnly,
				AddSource:  flags.debug,
			})))
		},
	}

	pf := root.PersistentFlags()
	pf.Uint64Var(&flags.initialMiB, "initial", 0, "initial reservation in MiB (clamped to the top class)")
	pf.IntVar(&flags.numa, "numa", 0, "NUMA node to bind regions to")
	pf.Uint64Var(&flags.minClass, "min-class", defaults.MinClassSize, "smallest size class in bytes")
	pf.IntVar(&flags.numClasses, "classes", defaults.NumClasses, "number of size classes")
	pf.BoolVar(&flags.heap, "heap", false, "use anonymous mappings instead of SysV hugepage segments")
	pf.BoolVar(&flags.uring, "uring", false, "register regions as io_uring fixed buffers")
	pf.BoolVar(&flags.debug, "debug", false, "debug logging")

	root.AddCommand(statsCmd(flags), classesCmd(flags), benchCmd(flags))

	if err := root.Execute(); err != nil {
		if region.IsFatal(err) {
			slog.Error("fatal", "err", err)
		} else {
			slog.Error("hugealloc", "err", err)
		}
		os.Exit(1)
	}
}

func (f *rootFlags) options() config.Options {
	o := config.Default()
	o.InitialSize = f.initialMiB * c.MiB
	o.NumaNode = f.numa
	o.MinClassSize = f.minClass
	o.NumClasses = f.numClasses
	return o
}

// Allocator plus a close func that tears it down before the ring it registered with.
func (f *rootFlags) build() (*alloc.Allocator, func() error, error) {
	opts := f.options()
	if err := opts.Validate(); err != nil { return nil, nil, err }

	var backend region.Backend = region.DefaultBackend()
	if f.heap {
		backend = region.CreateHeapBackend(0)
	}

	var register region.RegisterFunc
	var deregister region.DeregisterFunc
	closeRing := func() {}

	if f.uring {
		m, err := iomgr.CreateIoMgr(0)
		if err != nil { return nil, nil, fmt.Errorf("io_uring: %w", err) }
		register = m.Registrar().Register
		deregister = m.Registrar().Deregister
		closeRing = m.Close
	} else {
		nop := &iomgr.NopRegistrar{}
		register = nop.Register
		deregister = nop.Deregister
	}

	provider := region.CreateProvider(backend, region.CreateKeyGen(region.SeedFromHost()),
		opts.HugepageSize, register)
	a, err := alloc.CreateWithProvider(opts, provider, deregister)
	if err != nil {
		closeRing()
		return nil, nil, err
	}

	closeAll := func() error {
		err := a.Close()
		closeRing()
		return err
	}
	return a, closeAll, nil
}

func statsCmd(flags *rootFlags) *cobra.Command {
	var cacheSize uint64
	var cacheCount int

	cmd := &cobra.Command{
		Use:	"stats",
		Short:	"Create an allocator, optionally warm a cache, and print its stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeAll, err := flags.build()
			if err != nil { return err }

			if cacheCount > 0 {
				if err := a.CreateCache(cacheSize, cacheCount); err != nil {
					if region.IsFatal(err) {
						if cerr := closeAll(); cerr != nil {
							slog.Error("teardown after fatal cache error", "err", cerr)
						}
						return err
					}
					slog.Warn("cache only partially created", "err", err)
				}
			}

			a.PrintStats(os.Stderr)
			return closeAll()
		},
	}
	cmd.Flags().Uint64Var(&cacheSize, "cache-size", 4*c.KiB, "buffer size to warm")
	cmd.Flags().IntVar(&cacheCount, "cache-count", 0, "number of free buffers to warm")
	return cmd
}

func classesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:	"classes",
		Short:	"Print the size class ladder",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := flags.options()
			if err := opts.Validate(); err != nil { return err }
			tbl := sizeclass.CreateTable(opts.MinClassSize, opts.NumClasses)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d classes, %d .. %d bytes\n", tbl.NumClasses(), tbl.MinClassSize(), tbl.MaxClassSize())
			for i, size := range tbl.Sizes() {
				fmt.Fprintf(out, "%2d %12d\n", i, size)
			}
			return nil
		},
	}
}

func benchCmd(flags *rootFlags) *cobra.Command {
	var ops int
	var window int
	var maxSize uint64
	var core int
	var seed uint64

	cmd := &cobra.Command{
		Use:	"bench",
		Short:	"Time random alloc/free cycles against a warmed allocator",
		RunE: func(cmd *cobra.Command, args []string) error {
			if window < 1 || ops < 0 || maxSize == 0 {
				return fmt.Errorf("bench: need window >= 1, ops >= 0, max-size > 0")
			}
			if core >= 0 {
				if err := iomgr.PinToCore(core); err != nil {
					slog.Warn("couldn't set core affinity", "core", core, "err", err)
				}
			}

			a, closeAll, err := flags.build()
			if err != nil { return err }

			faker := gofakeit.NewFaker(rand.NewPCG(seed, seed^0x5bd1e995), false)
			maxSize = min(maxSize, a.Classes().MaxClassSize())

			held := make([]alloc.Buffer, 0, window)
			oom := 0
			start := time.Now()

			for range ops {
				if len(held) == window {
					j := faker.IntRange(0, window-1)
					a.Free(held[j])
					held[j] = held[len(held)-1]
					held = held[:len(held)-1]
				}
				b, err := a.Alloc(uint64(faker.IntRange(1, int(maxSize))))
				if errors.Is(err, region.ErrOutOfMemory) {
					oom++
					continue
				}
				if err != nil {
					if cerr := closeAll(); cerr != nil {
						slog.Error("teardown after fatal alloc error", "err", cerr)
					}
					return err
				}
				held = append(held, b)
			}

			elapsed := time.Since(start)
			for _, b := range held {
				a.Free(b)
			}

			st := a.Stats()
			slog.Info("bench",
				"ops", ops,
				"elapsed", elapsed,
				"mops", float64(ops)/elapsed.Seconds()/1e6,
				"oom", oom,
				"numa", a.NumaNode(),
				"regions", st.RegionSizes,
				"growths", st.Growths,
				"reserved_mib", st.Reserved/c.MiB,
			)
			if flags.debug {
				a.PrintStats(os.Stderr)
			}
			return closeAll()
		},
	}
	cmd.Flags().IntVar(&ops, "ops", 1_000_000, "alloc calls")
	cmd.Flags().IntVar(&window, "window", 256, "buffers held at once")
	cmd.Flags().Uint64Var(&maxSize, "max-size", 64*c.KiB, "largest request size")
	cmd.Flags().IntVar(&core, "core", -1, "pin to this core, -1 to not pin")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "size stream seed")
	return cmd
}
