// Command missingmoney serves the unclaimed-property search API and runs
// one-off searches from the terminal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/missingmoney/cmd/missingmoney/commands"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	commands.ExecuteContext(ctx)
}
