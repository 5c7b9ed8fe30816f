package main

import "github.com/worldland/worldland-launcher/internal/cli"

func main() {
	cli.Execute()
}
