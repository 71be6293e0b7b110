package main

import (
	"os"

	"github.com/counterdata-network/story-processor/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
