package main

import (
	"github.com/Podly27/CB-soutez-4RO/cmd"
)

func main() {
	cmd.Execute()
}
