/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/learnhub/lmsapi/cmd"

func main() {
	cmd.Execute()
}
