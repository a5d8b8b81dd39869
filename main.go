package main

import "github.com/devicelab-dev/visual-runner/pkg/cli"

func main() {
	cli.Execute()
}
