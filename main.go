package main

import "github.com/kubeslot/kubeslot/cmd"

func main() {
	cmd.Execute()
}
