package main

import "github.com/lepinkainen/coverhub/cmd"

var execute = cmd.Execute

func main() {
	execute()
}
