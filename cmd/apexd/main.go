package main

import "github.com/apexprotocol/apexd/internal/cli"

func main() {
	cli.Execute()
}
