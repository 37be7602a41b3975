// Package main implements the learnflow server: the HTTP API over the
// snapshot, progress and assignment engines, its background jobs and the
// operational commands around them.
package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
