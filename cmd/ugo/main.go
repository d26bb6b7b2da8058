package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Setup          SetupCommand          `command:"setup" description:"Scan for leader arms, calibrate them and write ugo.json"`
	Teleoperate    TeleoperateCommand    `command:"teleoperate" alias:"teleop" description:"Drive the ugo Pro follower from the leader arms"`
	Monitor        MonitorCommand        `command:"monitor" description:"Show live follower telemetry"`
	MockController MockControllerCommand `command:"mock-controller" alias:"mock" description:"Emulate the ugo Pro controller on UDP for bench testing"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "ugo - teleoperation bridge for the ugo Pro dual-arm robot"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
