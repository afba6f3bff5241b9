package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newCLI().Exec(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
