package main

import "github.com/audiolibrelab/isdrec/cmd"

func main() {
	cmd.Execute()
}
