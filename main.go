package main

import (
	"log"

	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
