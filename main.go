/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/platformai/sci-auth/cmd"

func main() {
	cmd.Execute()
}
