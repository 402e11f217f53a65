package main

import "github.com/BoundlessStudio/ElectricRaspberry-sub001/cmd"

func main() {
	cmd.Execute()
}
