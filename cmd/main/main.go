package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/BartekS5/xfer/internal/cli"
	"github.com/BartekS5/xfer/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	rootCmd := cli.NewRootCmd()
	err := rootCmd.Execute()
	logger.Close()
	if err != nil {
		os.Exit(1)
	}
}
