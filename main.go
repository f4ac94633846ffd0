package main

import (
	"github.com/AzielCF/az-medchat/cmd"
)

func main() {
	cmd.Execute()
}
