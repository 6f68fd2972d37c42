package main

import "github.com/julienstroheker/framerelay/relay/cmd"

func main() {
	cmd.Execute()
}
