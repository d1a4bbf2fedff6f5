package main

import "github.com/javi11/rarar/cmd/rarar/cmd"

func main() {
	cmd.Execute()
}
