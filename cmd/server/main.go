package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"palm-pilots/server/internal/app"
	"palm-pilots/server/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON settings file")
	printConfig := flag.Bool("print-config", false, "print the effective settings and exit")
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if *printConfig {
		data, err := config.Encode(settings)
		if err != nil {
			log.Fatalf("failed to encode settings: %v", err)
		}
		fmt.Fprint(os.Stdout, string(data))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Config{Settings: settings}); err != nil {
		log.Fatalf("%v", err)
	}
}
