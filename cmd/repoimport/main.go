// Command repoimport imports a spreadsheet into a repository from the shell.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/repoimport/internal/core"
)

func main() {
	// Ctrl-C stops the import between rows; committed rows stay committed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(runImport).ExecuteContext(ctx); err != nil {
		var userErr *core.UserError
		if errors.As(err, &userErr) && userErr.User.Action != "" {
			fmt.Fprintf(os.Stderr, "%s (Code: %s)\n", userErr.User.Action, userErr.User.Code)
		}
		stop()
		os.Exit(1)
	}
}
