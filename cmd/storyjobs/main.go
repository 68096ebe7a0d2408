package main

import "github.com/jonwraymond/storyjobs/internal/cli"

func main() {
	cli.Execute()
}
