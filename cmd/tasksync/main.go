package main

import (
	"context"
	"log"
	"os"

	"github.com/mlevkov/tasksync/internal/buildinfo"
	"github.com/mlevkov/tasksync/internal/cli"
	"github.com/mlevkov/tasksync/internal/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := cli.NewApp(cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}
