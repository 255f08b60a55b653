package main

import "pbft/cmd"

func main() {
	cmd.Execute()
}
