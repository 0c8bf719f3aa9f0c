package main

import (
	"log"

	"github.com/Abhi18gaud/principulse-auth/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
