package main

import "github.com/fieldops/fieldlink/cmd"

func main() {
	cmd.Execute()
}
