package main

import "github.com/NeilDarrenLtd/zarzoom-core/services/scheduler/cli"

func main() {
	cli.Execute()
}
