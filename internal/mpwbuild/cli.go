package mpwbuild

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/ulikunitz/xz"
)

// Set via -ldflags at release time.
var (
	version   = "dev"
	buildDate = "unknown"
)

func printHelp() {
	colSuccess.Println("Usage: mpwbuild [cc-args...]")
	colSuccess.Println("Builds the configured targets, forwarding any arguments to every compile and link")
	fmt.Println()

	color.Info.Println("Targets:")
	var names []string
	for name := range targetTable {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Print("  ")
		color.Bold.Println(name)
	}
	fmt.Println()

	color.Info.Println("Environment:")
	type envInfo struct {
		Name string
		Desc string
	}
	envs := []envInfo{
		{"MPWBUILD_TARGETS", "Space-separated targets to build (default: mpw)"},
		{"MPWBUILD_LIBDIR", "Directory holding dependency sources (default: lib)"},
		{"MPWBUILD_CC", "C compiler to use instead of the autodetected one"},
		{"MPWBUILD_CFLAGS", "Extra compiler flags, shell-quoted"},
		{"MPWBUILD_COLOR", "Set to 0 to disable colored output"},
		{"MPWBUILD_VERBOSE", "Set to 1 to stream dependency build output"},
		{"MPWBUILD_DEBUG", "Set to 1 for debug output"},
	}

	maxLen := 0
	for _, e := range envs {
		if len(e.Name) > maxLen {
			maxLen = len(e.Name)
		}
	}
	columnWidth := maxLen + 4

	for _, e := range envs {
		fmt.Print("  ")
		color.Bold.Print(e.Name)
		pad := columnWidth - len(e.Name)
		fmt.Print(strings.Repeat(" ", pad))
		color.Info.Println(e.Desc)
	}
	fmt.Println()
}

// Main is the CLI entrypoint for cmd/mpwbuild. Every argument except
// the help and version words is forwarded verbatim to the compiler.
func Main() {
	ctx, cancel := signalContext()
	defer cancel()

	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "help", "-h", "--help":
			printHelp()
			return
		case "version", "--version":
			colNote.Printf("mpwbuild %s (%s) built %s\n", version, runtime.GOARCH, buildDate)
			return
		}
	}

	cfg, err := LoadConfig(ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	Debug = cfg.Debug
	Verbose = cfg.Verbose
	if !cfg.Color {
		color.Disable()
	}

	release, err := acquireRunLock(cfg.LibDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer release()

	b := NewBuilder(cfg, NewExecutor(ctx), DiskState{})

	arrowf("Building targets: %s\n", strings.Join(cfg.Targets, " "))
	for _, name := range cfg.Targets {
		if ctx.Err() != nil {
			os.Exit(130)
		}
		t, err := lookupTarget(name)
		if err != nil {
			colArrow.Print("-> ")
			colError.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		if err := b.assembleTarget(t, args); err != nil {
			colArrow.Print("-> ")
			colError.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}
}

// signalContext cancels the returned context on the first interrupt
// and forces an exit on the second, so a hung dependency build cannot
// trap the user.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-sigs:
				colArrow.Print("\n-> ")
				color.Danger.Printf("Received %v. Cancelling build gracefully\n", sig)
				cancel()
				time.Sleep(100 * time.Millisecond)

				select {
				case <-sigs:
					colArrow.Print("\n-> ")
					color.Danger.Printf("Second interrupt received. Forcing immediate exit.\n")
					os.Exit(130)
				case <-time.After(2 * time.Second):
					colArrow.Print("\n-> ")
					color.Danger.Printf("Graceful shutdown timeout. Exiting.\n")
					os.Exit(130)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return ctx, cancel
}

// LogMain is the entrypoint for cmd/mpwbuild-log: it pages a
// dependency's build log, or lists the dependencies that have one.
func LogMain() {
	cfg, err := LoadConfig(ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		names, err := depsWithLogs(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(names) == 0 {
			colNote.Println("No build logs found")
			return
		}
		colSuccess.Println("Dependencies with build logs:")
		for _, name := range names {
			colNote.Printf("  %s\n", name)
		}
		return
	}

	name := os.Args[1]
	lines, err := readBuildLog(cfg, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := pageLines(name+" build log", lines); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func depsWithLogs(cfg *Config) ([]string, error) {
	entries, err := visibleEntries(cfg.LibDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, name := range entries {
		root := filepath.Join(cfg.LibDir, name)
		if !dirExists(root) {
			continue
		}
		if fileExists(filepath.Join(root, buildLogName+".xz")) || fileExists(filepath.Join(root, buildLogName)) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func readBuildLog(cfg *Config, name string) ([]string, error) {
	root := depRoot(cfg, name)

	xzPath := filepath.Join(root, buildLogName+".xz")
	if fileExists(xzPath) {
		f, err := os.Open(xzPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read compressed log %s: %w", xzPath, err)
		}
		data, err := io.ReadAll(xr)
		if err != nil {
			return nil, err
		}
		return strings.Split(strings.TrimRight(string(data), "\n"), "\n"), nil
	}

	plainPath := filepath.Join(root, buildLogName)
	if fileExists(plainPath) {
		data, err := os.ReadFile(plainPath)
		if err != nil {
			return nil, err
		}
		return strings.Split(strings.TrimRight(string(data), "\n"), "\n"), nil
	}

	return nil, fmt.Errorf("no build log found for dependency %s", name)
}
