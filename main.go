package main

import "github.com/jmcewan/superscene/cmd"

func main() {
	cmd.Execute()
}
