package main

import "github.com/MeKo-Tech/lectorium/cmd/lectorium/cmd"

func main() {
	cmd.Execute()
}
