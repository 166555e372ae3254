package main

import "github.com/tilevault/tilevault/cmd"

func main() {
	cmd.Execute()
}
