package main

import "github.com/andresmejia3/blinkscan/cmd"

func main() {
	cmd.Execute()
}
