package main

import "github.com/ekaya-inc/ekaya-query/cmd"

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cmd.Version = Version
	cmd.Execute()
}
