package main

import (
	"context"
)

func main() {
	ctx, stop := shutdownContext(context.Background(), buildLogger("", CLIFlags{}))

	err := newRootCmd().ExecuteContext(ctx)

	stop()

	if err != nil {
		exitOnError(err)
	}
}
