package main

import "buildq/cmd"

func main() {
	cmd.Run()
}
