package main

import "github.com/oshokin/polypack/cmd/polypack/cmd"

func main() {
	cmd.Execute()
}
