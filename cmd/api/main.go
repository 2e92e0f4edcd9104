package main

import "github.com/NeilDarrenLtd/zarzoom-core/services/api/cli"

func main() {
	cli.Execute()
}
