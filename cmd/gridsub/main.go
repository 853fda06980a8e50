package main

import (
	"fmt"
	"os"

	"github.com/annie-grid/gridsub"
)

func main() {
	driver, err := gridsub.NewDriver()
	if err != nil {
		fmt.Fprintf(os.Stderr, "\n### ERROR: %s ###\n\n", err)
		os.Exit(1)
	}
	driver.Main()
}
