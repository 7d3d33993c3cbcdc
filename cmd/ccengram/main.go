package main

import (
	"os"

	"github.com/ccengram/ccengram/cmd/ccengram/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
