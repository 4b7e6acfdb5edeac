// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sangam-app/callcore/internal/app"
	"github.com/sangam-app/callcore/internal/config"
)

var (
	dataDir  = flag.String("dir", ".", "Data directory (config, identity key, caches)")
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("callcore v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	absDir, err := filepath.Abs(*dataDir)
	if err != nil {
		log.Fatalf("Invalid data directory: %v", err)
	}
	if stat, err := os.Stat(absDir); err != nil || !stat.IsDir() {
		log.Fatalf("Data directory does not exist: %s", absDir)
	}

	cfgPath := filepath.Join(absDir, "callcore.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		log.Printf("Created default config at %s", cfgPath)
	}

	printBanner(absDir, cfgPath, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := app.Run(ctx, app.Options{
		DataDir: absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
	}); err != nil {
		log.Fatalf("Engine failed: %v", err)
	}
}

func printBanner(dir, cfgPath string, cfg config.Config) {
	fmt.Println("callcore - native call engine")
	fmt.Printf("  data dir:    %s\n", dir)
	fmt.Printf("  config:      %s\n", cfgPath)
	fmt.Printf("  control api: http://%s\n", cfg.Viewer.HTTPAddr)
}

func showUsage() {
	fmt.Println("callcore - native call engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  callcore [-dir <directory>]")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -dir       Data directory (default: current directory)")
	fmt.Println("  -version   Show version")
	fmt.Println("  -h         Show help")
}
