package main

import "github.com/javi11/nzbinspect/cmd/nzbinspect/cmd"

func main() {
	cmd.Execute()
}
