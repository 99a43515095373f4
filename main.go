package main

import "github.com/oneflow-erp/oneflow-api/cmd"

func main() {
	cmd.Execute()
}
