package main

import "github.com/jmcleod/budgetkeeper/cmd/budgetkeeper/cmd"

func main() {
	cmd.Execute()
}
