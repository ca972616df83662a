package main

import (
	"ratewatch/internal/cli"
)

func main() {
	cli.Execute()
}
