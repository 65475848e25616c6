package main

import "github.com/AstreaTSS/UltimateInvestigator/cmd"

func main() {
	cmd.Execute()
}
