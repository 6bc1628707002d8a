package main

import (
	"fmt"
	"os"
)

func main() {
	c := &cli{}
	err := newRootCmd(c).Execute()
	if cerr := c.close(); cerr != nil {
		fmt.Fprintln(os.Stderr, cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}
