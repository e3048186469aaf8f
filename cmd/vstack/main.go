// Command vstack extracts stack strings from PE, ELF, and Mach-O images by
// emulating caller-supplied entry points and harvesting coalesced memory
// writes (spec.md).
package main

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/zboralski/vstack/internal/config"
	"github.com/zboralski/vstack/internal/emu"
	"github.com/zboralski/vstack/internal/executable"
	glog "github.com/zboralski/vstack/internal/log"
	"github.com/zboralski/vstack/internal/ui/colorize"
	"github.com/zboralski/vstack/internal/vstack"
)

var (
	verbose    bool
	configPath string

	optStop       string
	optBase       string
	optWait       uint64
	optCallsWait  bool
	optStackSize  uint64
	optBlockSize  uint64
	optPatchMin   uint64
	optPatchMax   int64
	optWriteMin   uint64
	optWriteMax   int64
	optFramed     bool
	optBase64Line bool
	optProgress   bool
	optFilterJS   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vstack <image> <address>...",
		Short: "Recover stack strings from an executable image via emulation",
		Long: `vstack emulates code starting at one or more caller-supplied virtual
addresses inside a PE, ELF, or Mach-O image, and records every memory write
the emulated code makes. Writes are coalesced into regions as they touch or
overlap; once emulation halts (by running off the end of the entry's
segment, hitting a stop address, or the wait/call-depth heuristic), the
final bytes of every region at least patch_range bytes long are reported.

This recovers strings built up byte-by-byte or word-by-word in a stack
buffer, which static analysis of the binary alone cannot see.

Examples:
  vstack libexample.so 0x1234          extract from one address
  vstack libexample.so 0x1234 0x5678   extract from two, in order
  vstack --progress libexample.so 0x1234
  vstack info libexample.so`,
		Args:                  cobra.MinimumNArgs(2),
		DisableFlagsInUseLine: true,
		RunE:                  runExtract,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a vstack.yaml defaults file")

	rootCmd.Flags().StringVar(&optStop, "stop", "", "halt address (hex or decimal)")
	rootCmd.Flags().StringVar(&optBase, "base", "", "override the image's declared load base")
	rootCmd.Flags().Uint64Var(&optWait, "wait", 10, "consecutive non-writing instructions before halting")
	rootCmd.Flags().BoolVar(&optCallsWait, "calls-wait", false, "freeze the wait counter while inside a tracked call")
	rootCmd.Flags().Uint64Var(&optStackSize, "stack-size", 0x10000, "synthetic stack size in bytes")
	rootCmd.Flags().Uint64Var(&optBlockSize, "block-size", 0x1000, "page granularity for on-demand mapping")
	rootCmd.Flags().Uint64Var(&optPatchMin, "patch-min", 5, "minimum reported region size")
	rootCmd.Flags().Int64Var(&optPatchMax, "patch-max", -1, "maximum reported region size (-1 for unbounded)")
	rootCmd.Flags().Uint64Var(&optWriteMin, "write-min", 1, "minimum tracked write size")
	rootCmd.Flags().Int64Var(&optWriteMax, "write-max", -1, "maximum tracked write size (-1 for unbounded)")
	rootCmd.Flags().BoolVar(&optFramed, "framed", false, "emit each region length-prefixed instead of newline-delimited")
	rootCmd.Flags().BoolVar(&optBase64Line, "base64", false, "emit each region as one base64 line instead of raw bytes")
	rootCmd.Flags().BoolVar(&optProgress, "progress", false, "render a live progress bar instead of streaming output")
	rootCmd.Flags().StringVar(&optFilterJS, "filter-js", "", "path to a JS file exposing keep(bytes)/transform(bytes)")

	infoCmd := &cobra.Command{
		Use:   "info <image>",
		Short: "Show image format, architecture, and segment layout",
		Args:  cobra.ExactArgs(1),
		RunE:  runInfo,
	}
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, colorize.Error(err.Error()))
		os.Exit(1)
	}
}

func parseUint(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// buildOptions layers, lowest precedence first: vstack.DefaultOptions,
// the optional --config YAML file, then any flag the user actually passed
// on the command line (checked via flags.Changed so an unset flag's
// cobra default never clobbers a config file value).
func buildOptions(flags *pflag.FlagSet, addrArgs []string) (vstack.Options, error) {
	file, err := config.Load(configPath)
	if err != nil {
		return vstack.Options{}, err
	}

	opts := vstack.DefaultOptions()
	if file.Wait != nil {
		opts.Wait = *file.Wait
	}
	if file.CallsWait != nil {
		opts.CallsWait = *file.CallsWait
	}
	if file.StackSize != nil {
		opts.StackSize = *file.StackSize
	}
	if file.BlockSize != nil {
		opts.BlockSize = *file.BlockSize
	}
	if file.PatchRange != nil {
		opts.PatchRange = vstack.Bounds{Min: file.PatchRange.Min, Max: file.PatchRange.Max}
	}
	if file.WriteRange != nil {
		opts.WriteRange = vstack.Bounds{Min: file.WriteRange.Min, Max: file.WriteRange.Max}
	}

	if flags.Changed("wait") {
		opts.Wait = optWait
	}
	if flags.Changed("calls-wait") {
		opts.CallsWait = optCallsWait
	}
	if flags.Changed("stack-size") {
		opts.StackSize = optStackSize
	}
	if flags.Changed("block-size") {
		opts.BlockSize = optBlockSize
	}
	if flags.Changed("patch-min") || flags.Changed("patch-max") {
		opts.PatchRange = boundsFrom(optPatchMin, optPatchMax)
	}
	if flags.Changed("write-min") || flags.Changed("write-max") {
		opts.WriteRange = boundsFrom(optWriteMin, optWriteMax)
	}

	for _, a := range addrArgs {
		v, err := parseUint(a)
		if err != nil {
			return vstack.Options{}, fmt.Errorf("bad address %q: %w", a, err)
		}
		opts.Addresses = append(opts.Addresses, v)
	}

	if optStop != "" {
		v, err := parseUint(optStop)
		if err != nil {
			return vstack.Options{}, fmt.Errorf("bad --stop: %w", err)
		}
		opts.Stop = &v
	}

	return opts, nil
}

func boundsFrom(min uint64, max int64) vstack.Bounds {
	b := vstack.Bounds{Min: min}
	if max >= 0 {
		m := uint64(max)
		b.Max = &m
	}
	return b
}

func loadImage(path string) (executable.Executable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var base *uint64
	if optBase != "" {
		v, err := parseUint(optBase)
		if err != nil {
			return nil, fmt.Errorf("bad --base: %w", err)
		}
		base = &v
	}
	return executable.Load(data, base)
}

func runExtract(cmd *cobra.Command, args []string) error {
	glog.Init(verbose)

	imagePath := args[0]
	exe, err := loadImage(imagePath)
	if err != nil {
		return err
	}

	opts, err := buildOptions(cmd.Flags(), args[1:])
	if err != nil {
		return err
	}

	var filterScript *filterHandle
	if optFilterJS != "" {
		filterScript, err = loadFilter(optFilterJS)
		if err != nil {
			return err
		}
	}

	runID := uuid.New().String()
	if verbose {
		fmt.Fprintf(os.Stderr, "%s run=%s image=%s arch=%s addresses=%d\n",
			colorize.Header("▶"), runID, imagePath, exe.Arch(), len(opts.Addresses))
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	emitRegion := func(region []byte) error {
		if filterScript != nil {
			var ok bool
			region, ok, err = filterScript.Apply(region)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		return writeRegion(out, region)
	}

	if optProgress {
		var regions [][]byte
		var workErr error
		err := runWithProgress(len(opts.Addresses), func(report func(int, string)) {
			for i, addr := range opts.Addresses {
				single := opts
				single.Addresses = []uint64{addr}
				rs, err := vstack.Run(exe, single, emu.NewFunc())
				if err != nil {
					workErr = err
					return
				}
				regions = append(regions, rs...)
				report(i+1, fmt.Sprintf("0x%x", addr))
			}
		})
		if err != nil {
			return err
		}
		if workErr != nil {
			return workErr
		}
		for _, r := range regions {
			if err := emitRegion(r); err != nil {
				return err
			}
		}
		return nil
	}

	regions, err := vstack.Run(exe, opts, emu.NewFunc())
	if err != nil {
		return err
	}
	for _, r := range regions {
		if err := emitRegion(r); err != nil {
			return err
		}
	}
	return nil
}

func writeRegion(w *bufio.Writer, region []byte) error {
	if optFramed {
		var length [4]byte
		n := uint32(len(region))
		length[0] = byte(n)
		length[1] = byte(n >> 8)
		length[2] = byte(n >> 16)
		length[3] = byte(n >> 24)
		if _, err := w.Write(length[:]); err != nil {
			return err
		}
		_, err := w.Write(region)
		return err
	}
	if optBase64Line {
		_, err := w.WriteString(base64.StdEncoding.EncodeToString(region) + "\n")
		return err
	}
	if _, err := w.Write(region); err != nil {
		return err
	}
	_, err := w.WriteString("\n")
	return err
}

func runInfo(cmd *cobra.Command, args []string) error {
	exe, err := loadImage(args[0])
	if err != nil {
		return err
	}
	space := exe.ImageDefinedAddressSpace()
	fmt.Printf("%s %s\n", colorize.Detail("Arch:"), exe.Arch())
	fmt.Printf("%s %d\n", colorize.Detail("Pointer size:"), exe.PointerSize())
	fmt.Printf("%s %s\n", colorize.Detail("Address space:"), colorize.Address(space.Lower)+"-"+colorize.Address(space.Upper))
	fmt.Printf("%s %d\n", colorize.Detail("Segments:"), len(exe.Segments()))
	for i, seg := range exe.Segments() {
		flags := segmentFlagString(seg.Flags)
		fmt.Printf("  [%2d] %s-%s %s (%d bytes)\n", i,
			colorize.Address(seg.Virtual.Lower), colorize.Address(seg.Virtual.Upper),
			flags, len(seg.Data))
	}
	return nil
}

func segmentFlagString(flags uint32) string {
	var b strings.Builder
	for _, pair := range []struct {
		bit  uint32
		char byte
	}{
		{executable.FlagRead, 'r'},
		{executable.FlagWrite, 'w'},
		{executable.FlagExec, 'x'},
	} {
		if flags&pair.bit != 0 {
			b.WriteByte(pair.char)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}
