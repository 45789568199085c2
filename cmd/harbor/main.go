// Package main is the entry point of the harbor server.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/harbor/internal/harbor"
)

func main() {
	harbor.NewApp().Run()
}
