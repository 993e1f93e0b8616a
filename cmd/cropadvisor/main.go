package main

import "crop-sell-advisor/internal/cli"

func main() {
	cli.Execute()
}
