package main

import "github.com/deploymenttheory/qtrc-extract/cmd"

func main() {
	cmd.Execute()
}
