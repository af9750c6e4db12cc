package main

import "arctic-iceberg/cmd"

func main() {
	cmd.Execute()
}
