package main

import "github.com/dayuer/estatedesk/cmd"

func main() {
	cmd.Execute()
}
