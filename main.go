package main

import "github.com/justinchat/justinchat/cmd"

func main() {
	cmd.Execute()
}
