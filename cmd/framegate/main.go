package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/framegate/internal/logging"
	"github.com/danmuck/framegate/internal/receiver"
)

func main() {
	configPath := flag.String("config", "", "path to framegate TOML config")
	flag.Parse()

	logging.ConfigureRuntime()
	cfg := receiver.DefaultServiceConfig()
	if path := strings.TrimSpace(*configPath); path != "" {
		loaded, err := loadServiceConfig(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "framegate: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	svc := receiver.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "framegate: %v\n", err)
		os.Exit(1)
	}
}
