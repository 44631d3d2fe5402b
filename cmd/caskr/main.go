package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZebulonRouseFrantzich/caskr/internal/manifest"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0"

// Commit will be set at build time via -ldflags
var Commit = "unknown"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := newApp(stdin, stdout, stderr)
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if err == nil {
		return 0
	}

	if errors.Is(err, errAborted) {
		fmt.Fprintln(stderr, "Aborted.")
		return 1
	}
	fmt.Fprintf(stderr, "Error: %s\n", manifest.FormatError(err, a.flags.verbose))
	return 1
}
