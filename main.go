package main

import "github.com/kozaktomas/face-greeter/cmd"

func main() {
	cmd.Execute()
}
