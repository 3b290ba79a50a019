// Package main is the entry point for hls-scrape-proxy.
package main

import (
	"log"
	"os"

	"hls-scrape-proxy/internal/app"
)

func main() {
	application, err := app.New()
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	defer application.Shutdown()

	if err := application.Run(); err != nil {
		log.Printf("server error: %v", err)
		application.Shutdown()
		os.Exit(1)
	}
}
