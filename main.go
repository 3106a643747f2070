package main

import "lawsim/cmd"

func main() {
	cmd.Execute()
}
