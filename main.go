/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/sapphybara/change-and-charm-api/cmd"

func main() {
	cmd.Execute()
}
