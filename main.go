package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"stoic_citadel_go/config"
	"stoic_citadel_go/logs"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to the config.yaml file")
	flag.Parse()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		fmt.Println("Note: .env file not found, will continue using system environment variables.")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Fatal error: Unable to load config file '%s': %v\n", *configPath, err)
		return
	}

	envCfg := config.LoadEnvConfig()

	symbolUpper := strings.ToUpper(cfg.Symbol)
	logFilename := fmt.Sprintf("%s/%s_guard.log", cfg.Normal.LogDirectory, symbolUpper)
	stateFilename := fmt.Sprintf("%s/%s_breaker.json", cfg.Normal.StateDirectory, symbolUpper)

	if err := logs.Init(cfg.Logs, logFilename); err != nil {
		fmt.Printf("Fatal error: Failed to initialize logging system: %v\n", err)
		return
	}
	defer logs.Close()

	logs.Infof("Configuration loaded successfully, logs will be written to: %s", logFilename)

	if err := os.MkdirAll(cfg.Normal.StateDirectory, 0755); err != nil {
		logs.Fatalf("Failed to create state directory: %v", err)
	}

	orchestrator, err := NewOrchestrator(cfg, envCfg, stateFilename)
	if err != nil {
		logs.Fatalf("Failed to initialize Orchestrator: %v", err)
	}
	orchestrator.Start()

	// Wait for and handle program termination signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	orchestrator.Stop()
}
