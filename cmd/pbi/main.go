package main

import (
	"os"

	"github.com/hashicorp-forge/pbi/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
