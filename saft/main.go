package main

import "github.com/Simenb123/saft/saft/cmd"

func main() {
	cmd.Execute()
}
