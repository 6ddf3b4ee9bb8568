package main

import "github.com/shindekokoro/homebridge-my-wallbox/cmd"

func main() {
	cmd.Execute()
}
