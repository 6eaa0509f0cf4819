package main

import (
	"os"

	"github.com/dokzlo13/zhmcctl/internal/app"
)

// version can be set during build with -ldflags
var version = "dev"

func main() {
	ctx := app.SignalContext()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}
