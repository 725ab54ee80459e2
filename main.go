package main

import (
	"github.com/Hdd5ps/sheet-to-sound/cmd"
)

func main() {
	cmd.Execute()
}
