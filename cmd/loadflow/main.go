package main

import (
	"github.com/warriorguo/loadflow/cmd/loadflow/cmd"
)

func main() {
	cmd.Execute()
}
