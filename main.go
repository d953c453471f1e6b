package main

import (
	"lp-range-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
