package main

import (
	"os"

	"github.com/jsruntime/modcore/cmd/modcore"
)

func main() {
	os.Exit(modcore.Execute())
}
