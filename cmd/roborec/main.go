package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/vburojevic/roborec/internal/cli"
	"github.com/vburojevic/roborec/internal/config"
)

const quickStart = `roborec - record Android app interactions as robo scripts

Quick start:
  roborec devices                             List connected devices
  roborec record -a com.example.app           Record until you type "stop" or press q
  roborec inspect ./com.example.app_robo_script_*

For help:
  roborec --help                              All commands and flags
  roborec schema                              JSON Schema of --format ndjson output
`

func main() {
	// Show quick start if no args provided
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	// Load configuration from files/environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI

	// Config values become flag defaults; flags given on the command line win
	ctx := kong.Parse(&c,
		kong.Name("roborec"),
		kong.Description("roborec: record user interactions with an Android app into a replayable robo script"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		cli.Vars(cfg),
	)

	// Create globals with config fallbacks
	globals := cli.NewGlobalsWithConfig(&c, cfg)
	err = ctx.Run(globals)
	if err != nil {
		os.Exit(1)
	}
}
