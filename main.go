package main

import "github.com/betcore/sprintbet/cmd"

func main() {
	cmd.Execute()
}
