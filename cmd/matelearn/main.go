// Command matelearn classifies geometric mates in assembly samples, learns
// rule libraries from them and proposes constraints for new assemblies.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(newApp(os.Stdout, os.Stderr))
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, styles.err.Render("error: ")+err.Error())
		os.Exit(1)
	}
}
