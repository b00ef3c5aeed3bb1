// Command twofactorctl drives the two-factor lifecycle against the configured
// store. Results are printed as JSON on stdout, logs go to stderr.
//
//	twofactorctl setup -user u1 -account u1@example.com -qr u1.png
//	twofactorctl confirm -user u1 -code 123456
//	twofactorctl verify -user u1 -code 123456
//
// Configuration is read from the environment, see internal/twofactor/app.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const (
	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitRejected = 3 // the lifecycle answered with an unsuccessful outcome
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		usage(stderr)
		return exitUsage
	}

	ok, err := cmd.run(ctx, args[1:], stdout, stderr)
	switch {
	case errors.Is(err, errUsage):
		return exitUsage
	case err != nil:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	case !ok:
		return exitRejected
	default:
		return exitOK
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: twofactorctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-11s %s\n", name, commands[name].summary)
	}
}
