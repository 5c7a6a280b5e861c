/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/tubeshelf/accounts/cmd"

func main() {
	cmd.Execute()
}
