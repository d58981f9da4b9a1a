// Command morello is the CLI entry point for the top-down synthesis
// engine: a thin cobra+toml wrapper (see config.go, root.go) around
// package search, with flag values overriding config-file values.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("morello failed")
		os.Exit(1)
	}
}
