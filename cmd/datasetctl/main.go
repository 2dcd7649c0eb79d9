package main

import "github.com/lyzr/datasync/cmd/datasetctl/cmd"

func main() {
	cmd.Execute()
}
