package main

import "github.com/andresmejia3/trafficvision/cmd"

func main() {
	cmd.Execute()
}
