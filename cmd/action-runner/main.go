package main

import "github.com/devicelab-dev/action-runner/pkg/cli"

func main() {
	cli.Execute()
}
