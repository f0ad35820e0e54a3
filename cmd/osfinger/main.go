// Package main implements osfinger, a tool to watch Zuul build consoles
// live from the terminal.
//
// It speaks enough of the finger protocol to stream a console and, unlike
// plain finger, survives dropped connections: it reconnects and resumes at
// the point already shown instead of printing the console again.
//
//	osfinger https://zuul.opendev.org/t/openstack/stream/<build>?logfile=console.log
//	osfinger --lnav= <build>
package main

import (
	"context"
	"fmt"
	"io"
	"os"
)

const version = "0.1.0"

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "osfinger: %v\n", err)
		return 1
	}
	return 0
}
