package main

import (
	"context"
	"os"

	"callbridge/internal/cli"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	os.Exit(cli.Execute(context.Background()))
}
