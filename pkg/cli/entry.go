// Package cli implements the initcheck command: it loads a project
// configuration and a compilation snapshot, runs the definite-assignment
// and constructor-resolution analysis, and prints the findings.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/calyx-lang/initcheck/internal/analysis"
	"github.com/calyx-lang/initcheck/internal/cache"
	"github.com/calyx-lang/initcheck/internal/config"
	"github.com/calyx-lang/initcheck/internal/diagnostics"
	"github.com/calyx-lang/initcheck/internal/snapshot"
)

// Exit codes: 0 clean, 1 fatal findings, 2 usage or infrastructure error.
const (
	exitOK    = 0
	exitFatal = 1
	exitError = 2
)

type options struct {
	dir     string
	version string
	cache   string
	noColor bool
	verbose bool
}

// Run executes the command line and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	var opts options
	fs := flag.NewFlagSet("initcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.dir, "C", ".", "project directory containing "+config.FileName)
	fs.StringVar(&opts.version, "version", "", "override the language-version target")
	fs.StringVar(&opts.cache, "cache", "", "override the result cache path")
	fs.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	fs.BoolVar(&opts.verbose, "verbose", false, "print progress to stderr")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: initcheck [flags] <snapshot.yaml>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitError
	}

	cfg, err := config.Load(opts.dir)
	if err != nil {
		fmt.Fprintf(stderr, "initcheck: %v\n", err)
		return exitError
	}
	if opts.version != "" {
		cfg.Version = opts.version
	}
	if opts.cache != "" {
		cfg.Cache = opts.cache
	}
	pol, err := cfg.Policy()
	if err != nil {
		fmt.Fprintf(stderr, "initcheck: %v\n", err)
		return exitError
	}

	comp, snapHash, err := snapshot.LoadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "initcheck: %v\n", err)
		return exitError
	}

	useColor := !opts.noColor && stdout == io.Writer(os.Stdout) &&
		(isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))

	var store *cache.Cache
	if cfg.Cache != "" {
		store, err = cache.Open(cfg.Cache)
		if err != nil {
			fmt.Fprintf(stderr, "initcheck: %v\n", err)
			return exitError
		}
		defer store.Close()

		key := cache.Key(snapHash, pol)
		if entry, ok, err := store.Lookup(key); err != nil {
			fmt.Fprintf(stderr, "initcheck: %v\n", err)
		} else if ok {
			if opts.verbose {
				fmt.Fprintf(stderr, "[cache] reusing result for %s\n", fs.Arg(0))
			}
			fmt.Fprint(stdout, entry.Rendered)
			if entry.Fatal {
				return exitFatal
			}
			return exitOK
		}
	}

	if opts.verbose {
		fmt.Fprintf(stderr, "[run] analyzing %d routine(s), %d site(s), policy %s\n",
			len(comp.Routines), len(comp.Sites), pol.Fingerprint())
	}

	report, err := analysis.New(pol).Run(context.Background(), comp)
	if err != nil {
		fmt.Fprintf(stderr, "initcheck: %v\n", err)
		return exitError
	}

	rendered := Render(report, false)
	fmt.Fprint(stdout, Render(report, useColor))

	if store != nil {
		entry := cache.Entry{
			Fingerprint: report.Fingerprint(),
			Rendered:    rendered,
			Fatal:       report.HasFatal(),
		}
		if err := store.Store(cache.Key(snapHash, pol), entry); err != nil {
			fmt.Fprintf(stderr, "initcheck: warning: %v\n", err)
		}
	}

	if report.HasFatal() {
		return exitFatal
	}
	return exitOK
}

const (
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorReset  = "\x1b[0m"
)

// Render formats the report's diagnostics, one finding per line with its
// suggested fixes indented beneath it.
func Render(report *analysis.Report, colored bool) string {
	var b strings.Builder
	for _, d := range report.Diagnostics {
		line := d.Error()
		if colored {
			switch d.Severity {
			case diagnostics.Fatal:
				line = colorRed + line + colorReset
			case diagnostics.Warning:
				line = colorYellow + line + colorReset
			}
		}
		b.WriteString(line)
		b.WriteByte('\n')
		for _, fx := range d.Fixes {
			fmt.Fprintf(&b, "\tfix: %s: `%s`\n", fx.Title, fx.NewText)
		}
	}
	if len(report.Diagnostics) == 0 {
		b.WriteString("no findings\n")
	}
	return b.String()
}
