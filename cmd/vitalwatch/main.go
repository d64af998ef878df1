package main

import "vitalwatch/internal/cli"

func main() {
	cli.Execute()
}
