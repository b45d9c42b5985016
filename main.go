package main

import "github.com/ValentinKolb/sdsio/cmd"

func main() {
	cmd.Execute()
}
