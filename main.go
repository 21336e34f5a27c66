/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "meshbot/cmd"

func main() {
	cmd.Execute()
}
