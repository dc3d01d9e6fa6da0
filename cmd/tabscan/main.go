package main

import "github.com/MeKo-Tech/tabscan/cmd/tabscan/cmd"

func main() {
	cmd.Execute()
}
