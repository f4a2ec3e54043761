package main

import "github.com/sidepull/sidepull/cmd/sidepull/cmd"

func main() {
	cmd.Execute()
}
