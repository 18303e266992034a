package main

import "nearminter/internal/cli"

func main() {
	cli.Execute()
}
