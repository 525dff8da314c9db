package main

import "github.com/Socheema/Framez-sub000/cmd"

func main() {
	cmd.Execute()
}
