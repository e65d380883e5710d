package main

import "imgbatch/internal/cli"

func main() {
	cli.Execute()
}
