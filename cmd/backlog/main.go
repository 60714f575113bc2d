// Command backlog runs migrations, stats and requeue against a backlog
// database. Its worker has no job definitions; applications build their
// own binary with cli.Main and cli.WithRegistry.
package main

import (
	"context"
	"os"

	"github.com/xraph/backlog/cli"
)

func main() {
	os.Exit(cli.Main(context.Background()))
}
