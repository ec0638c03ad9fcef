package main

import "tubeforge/cmd"

func main() {
	cmd.Execute()
}
