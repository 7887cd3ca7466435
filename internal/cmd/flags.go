// SPDX-FileCopyrightText: 2026 The emurun authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"flag"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/emurun/emurun/internal/emurun"
	"github.com/emurun/emurun/internal/extract"
	"github.com/emurun/emurun/internal/overlay"
	"github.com/emurun/emurun/internal/sys"
)

const (
	name = "emurun"

	usageMessage = `Usage of 'emurun':
    emurun [flags...] bundle [args...]

Runs the application bundle under CPU emulation in an isolated guest, on top
of the configured overlay layer set:

	emurun -base=/stage/base:/images/base.img ./my-app.AppImage --some-flag

All emurun flags can also be provided via environment variable EMURUN_ARGS:
	EMURUN_ARGS="-base=/stage/base -debug" emurun ./my-app.AppImage

Defaults for the environment can be placed in a local .emurun.env file with
one KEY=VALUE pair per line.
`
)

// defaultSupportedISA are the instruction set feature tags the default
// emulator handles.
var defaultSupportedISA = []string{
	"x86-64-baseline",
	"x86-64-v2",
	"x86-64-v3",
}

type flags struct {
	spec    emurun.Spec
	flagSet *flag.FlagSet

	base      LayerList
	gpu       LayerList
	deps      LayerList
	refresh   LayerList
	backend   BackendValue
	cacheDir  FilePath
	outputDir FilePath
	archive   FilePath

	version bool
	debug   bool
}

func newFlags(output io.Writer) *flags {
	flags := &flags{
		spec: emurun.Spec{
			Policy: overlay.Policy{
				GuestArch:    sys.AMD64,
				SupportedISA: defaultSupportedISA,
			},
		},
		base:    LayerList{Role: overlay.RoleBaseRuntime},
		gpu:     LayerList{Role: overlay.RoleGPUSupport},
		deps:    LayerList{Role: overlay.RoleDependency},
		refresh: LayerList{Role: overlay.RoleBaseRefresh},
		backend: BackendValue{Backend: &extract.UnsquashfsBackend{}},
	}

	flags.initFlagset(output)

	return flags
}

func (f *flags) initFlagset(output io.Writer) {
	flagSet := flag.NewFlagSet(name, flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = f.usage

	flagSet.Var(
		&f.base,
		"base",
		"base runtime layer as id=root[:image]. Required.",
	)

	flagSet.Var(
		&f.gpu,
		"gpu",
		"GPU support layer as id=root[:image]. "+
			"Flag may be used more than once.",
	)

	flagSet.Var(
		&f.deps,
		"dep",
		"dependency layer as id=root[:image]. "+
			"Flag may be used more than once.",
	)

	flagSet.Var(
		&f.refresh,
		"refresh",
		"base refresh layer as id=root[:image]. "+
			"Flag may be used more than once.",
	)

	flagSet.Var(
		&f.spec.Policy.GuestArch,
		"guest-arch",
		"guest CPU architecture: amd64, arm64",
	)

	flagSet.Var(
		(*StringList)(&f.spec.Policy.SupportedISA),
		"supported-isa",
		"instruction set feature tag the emulator supports. "+
			"Flag may be used more than once. Empty value clears the list.",
	)

	flagSet.Var(
		&f.spec.Policy.ISAPolicy,
		"isa-policy",
		"how declared ISA features are treated: authoritative, advisory",
	)

	flagSet.Var(
		&f.backend,
		"extract-with",
		"payload extraction backend: unsquashfs, self-extract",
	)

	flagSet.Var(
		&f.cacheDir,
		"cache-dir",
		"directory for extracted payload trees "+
			"(default is emurun below the user cache dir)",
	)

	flagSet.Var(
		&f.outputDir,
		"out-dir",
		"directory for the evidence record and captured guest output "+
			"(default is a fresh temporary directory)",
	)

	flagSet.Var(
		&f.archive,
		"archive",
		"also pack record and artifacts into a cpio archive at this path",
	)

	flagSet.StringVar(
		&f.spec.Runtime,
		"runtime",
		f.spec.Runtime,
		"guest virtualization runtime binary to use (default muvm)",
	)

	flagSet.Var(
		(*StringList)(&f.spec.RuntimeArgs),
		"runtime-arg",
		"argument passed through to the guest runtime. "+
			"Flag may be used more than once. Empty value clears the list.",
	)

	flagSet.Var(
		(*StringList)(&f.spec.Env),
		"env",
		"KEY=VALUE pair for the guest environment. "+
			"Flag may be used more than once. Empty value clears the list.",
	)

	flagSet.StringVar(
		&f.spec.Prelude,
		"guest-pre",
		f.spec.Prelude,
		"shell snippet run inside the guest before the entry point",
	)

	flagSet.DurationVar(
		&f.spec.Lifetime,
		"timeout",
		f.spec.Lifetime,
		"bound on guest wall time, 0 means unbounded",
	)

	flagSet.DurationVar(
		&f.spec.GracePeriod,
		"grace",
		f.spec.GracePeriod,
		"delay between graceful termination and forced kill",
	)

	flagSet.BoolVar(
		&f.spec.StripISANotes,
		"strip-isa-notes",
		f.spec.StripISANotes,
		"strip ISA property notes from guest binaries in the extracted tree",
	)

	flagSet.StringVar(
		&f.spec.Objcopy,
		"objcopy",
		f.spec.Objcopy,
		"objcopy binary for note stripping (default is discovered)",
	)

	flagSet.BoolVar(
		&f.spec.AutoCompat,
		"auto-compat",
		f.spec.AutoCompat,
		"retry verification with a loader redirect layer for unmet "+
			"interpreters relocated below /usr",
	)

	flagSet.BoolVar(
		&f.debug,
		"debug",
		f.debug,
		"enable debug output",
	)

	flagSet.BoolVar(
		&f.version,
		"version",
		f.version,
		"show version and exit",
	)

	f.flagSet = flagSet
}

func (f *flags) ParseArgs(args []string) error {
	// Parses arguments up to the first one that is not prefixed with a "-" or
	// is "--".
	err := f.flagSet.Parse(args)
	if err != nil {
		return &ParseArgsError{msg: "flag parse", err: err}
	}

	// With version flag, just print the version and exit. Using [ErrHelp]
	// the main binary is supposed to return with a non error exit code.
	if f.version {
		err := f.printVersionInformation()
		return &ParseArgsError{msg: "version requested", err: err}
	}

	if len(f.base.Layers) == 0 {
		return f.fail("no base runtime layer given (use -base)", nil)
	}

	if len(f.base.Layers) > 1 {
		return f.fail("more than one base runtime layer given", nil)
	}

	f.spec.Layers = append(f.spec.Layers, f.base.Layers...)
	f.spec.Layers = append(f.spec.Layers, f.gpu.Layers...)
	f.spec.Layers = append(f.spec.Layers, f.deps.Layers...)
	f.spec.Layers = append(f.spec.Layers, f.refresh.Layers...)

	f.spec.Backend = f.backend.Backend

	positionalArgs := f.flagSet.Args()

	// First positional argument is supposed to be the bundle file.
	if len(positionalArgs) < 1 {
		return f.fail("no bundle given", nil)
	}

	bundlePath, err := AbsoluteFilePath(positionalArgs[0])
	if err != nil {
		return f.fail("bundle path", err)
	}

	f.spec.Bundle = bundlePath

	// All further positional arguments are passed to the bundle's entry
	// point inside the guest.
	f.spec.Args = positionalArgs[1:]

	return nil
}

// fail fails like flag does. It prints the error first and then usage.
func (f *flags) fail(msg string, err error) error {
	err = &ParseArgsError{msg: msg, err: err}
	fmt.Fprintln(f.flagSet.Output(), err.Error())

	f.flagSet.Usage()

	return err
}

func (f *flags) printVersionInformation() error {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return ErrReadBuildInfo
	}

	fmt.Fprintf(f.flagSet.Output(), "Version: %s\n", buildInfo.Main.Version)

	return ErrHelp
}

func (f *flags) usage() {
	fmt.Fprint(f.flagSet.Output(), usageMessage)
	fmt.Fprintln(f.flagSet.Output(), "\nFlags:")
	f.flagSet.PrintDefaults()
}
