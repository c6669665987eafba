package main

import (
	"log"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
