// file: cmd/main.go

package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ha1tch/floppyimg/cmd/create"
	"github.com/ha1tch/floppyimg/cmd/extract"
	"github.com/ha1tch/floppyimg/cmd/info"
	"github.com/ha1tch/floppyimg/cmd/list"
	"github.com/ha1tch/floppyimg/cmd/patch"
	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/diskimg/img"
)

// loadFlags are the drive policy and loader settings shared by every verb
// that attaches an image.
type loadFlags struct {
	policy diskimg.Policy
	img    img.Options
	noBPB  bool
}

func (l *loadFlags) register(fs *pflag.FlagSet) {
	fs.BoolVar(&l.policy.WriteProtect, "write-protect", false, "attach the image write protected")
	fs.BoolVar(&l.policy.Turbo, "turbo", false, "accept tracks whose sectors overflow the nominal track length")
	fs.BoolVar(&l.noBPB, "no-bpb", false, "ignore the boot sector and guess the geometry from the file size")
	fs.BoolVar(&l.policy.DoubleStep, "double-step", false, "double step 48 tpi media in a 96 tpi drive")
	fs.IntVar(&l.img.FDFSuppressFinalByte, "fdf-suppress", 0, "bytes dropped after every FDF block")
}

func (l *loadFlags) resolve() (diskimg.Policy, img.Options) {
	p := l.policy
	p.CheckBPB = !l.noBPB
	return p, l.img
}

func setupLogging(verbose, debug, json bool) {
	switch {
	case debug:
		log.SetLevel(log.DebugLevel)
	case verbose:
		log.SetLevel(log.InfoLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}
	if json {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	}
	log.SetOutput(os.Stderr)
}

func main() {
	var verbose, debug, logJSON bool

	root := &cobra.Command{
		Use:           "floppyimg",
		Short:         "Floppy disk image inspection and conversion",
		Long:          "Inspect, list, convert, create and patch IMG, IMD, TD0, JSON and FDI floppy disk images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogging(verbose, debug, logJSON)
		},
	}
	pf := root.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "log loader decisions")
	pf.BoolVar(&debug, "debug", false, "log per track detail")
	pf.BoolVar(&logJSON, "log-json", false, "log in JSON format")

	root.AddCommand(infoCmd(), listCmd(), extractCmd(), createCmd(), patchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func infoCmd() *cobra.Command {
	var lf loadFlags
	opts := info.DefaultInfoOptions()

	cmd := &cobra.Command{
		Use:   "info <image>",
		Short: "Show format, geometry and comment of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			opts.Policy, opts.IMG = lf.resolve()
			return info.Info(args[0], opts)
		},
	}
	lf.register(cmd.Flags())
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "output in JSON format")
	cmd.Flags().BoolVar(&opts.Validate, "validate", false, "seek every track and check the sector layout")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "print validation issues only")
	return cmd
}

func listCmd() *cobra.Command {
	var lf loadFlags
	opts := list.DefaultListOptions()

	cmd := &cobra.Command{
		Use:   "list <image>",
		Short: "List the sectors of every track",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			opts.Policy, opts.IMG = lf.resolve()
			return list.List(args[0], opts)
		},
	}
	lf.register(cmd.Flags())
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "output in JSON format")
	cmd.Flags().BoolVarP(&opts.Long, "long", "l", false, "show every sector")
	cmd.Flags().IntVarP(&opts.Track, "track", "t", -1, "list this track only")
	return cmd
}

func extractCmd() *cobra.Command {
	var lf loadFlags
	opts := extract.DefaultExtractOptions()

	cmd := &cobra.Command{
		Use:   "extract <image> <out.img>",
		Short: "Convert an image to a flat raw sector image",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			opts.Policy, opts.IMG = lf.resolve()
			_, err := extract.Extract(args[0], args[1], opts)
			return err
		},
	}
	lf.register(cmd.Flags())
	cmd.Flags().BoolVarP(&opts.Overwrite, "overwrite", "f", false, "replace an existing output file")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "suppress non-error output")
	return cmd
}

func createCmd() *cobra.Command {
	opts := create.DefaultCreateOptions()

	cmd := &cobra.Command{
		Use:   "create <out.img>",
		Short: "Create a blank raw image of a known size",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return create.Create(args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.Size, "size", "s", opts.Size, "image size, e.g. 360k, 720k, 1.44m, 2880k")
	cmd.Flags().BoolVar(&opts.BootSector, "boot", false, "write a boot sector describing the geometry")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite an existing file")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "suppress non-error output")
	return cmd
}

func patchCmd() *cobra.Command {
	var lf loadFlags
	opts := patch.DefaultPatchOptions()

	cmd := &cobra.Command{
		Use:   "patch <image>",
		Short: "Write bytes into one sector",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			opts.Policy, opts.IMG = lf.resolve()
			return patch.Patch(args[0], opts)
		},
	}
	lf.register(cmd.Flags())
	fs := cmd.Flags()
	fs.IntVar(&opts.Track, "track", 0, "cylinder")
	fs.IntVar(&opts.Side, "side", 0, "head")
	fs.IntVar(&opts.Sector, "sector", opts.Sector, "sector number")
	fs.IntVar(&opts.Offset, "offset", 0, "byte offset within the sector")
	fs.StringVar(&opts.Hex, "hex", "", "bytes to write as hex")
	fs.BoolVarP(&opts.Quiet, "quiet", "q", false, "suppress non-error output")
	cmd.MarkFlagRequired("hex")
	return cmd
}
