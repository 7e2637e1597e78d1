package main

import "southwinds.dev/tether/cli/cmd"

func main() {
	cmd.Execute()
}
