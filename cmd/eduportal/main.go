package main

import "github.com/jmcleod/eduportal/cmd/eduportal/cmd"

func main() {
	cmd.Execute()
}
