package main

import (
	"reservoir-data/cmd/reservoir-data/commands"
	"reservoir-data/lib/serviceutil"
)

func main() {
	ctx, cancel := serviceutil.SignalContext()
	defer cancel()
	commands.ExecuteContext(ctx)
}
