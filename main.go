package main

import "github.com/edgeflare/sensorhub/cmd/sensorhub"

func main() {
	sensorhub.Main()
}
