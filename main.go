package main

import "github.com/kumodl/kumo/cmd"

func main() {
	cmd.Execute()
}
