package main

import (
	"os"

	"github.com/timxx/qgitc-sub000/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
