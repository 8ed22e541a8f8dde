package main

import (
	"github.com/citydata/tripline/internal/cmd"
)

func main() {
	cmd.Execute()
}
