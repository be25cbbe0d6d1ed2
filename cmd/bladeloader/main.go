package main

import (
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/gwillem/bladeloader/pkg/config"
)

var version = "dev"

type Options struct {
	Config   string `short:"c" long:"config" default:"bladeloader.yaml" description:"Configuration file"`
	Port     string `short:"p" long:"port" description:"Serial port, overrides the configuration"`
	Simulate bool   `long:"simulate" description:"Use the built-in simulator instead of a serial port"`
	Verbose  bool   `short:"v" long:"verbose" description:"Debug logging"`

	Ports   PortsCommand   `command:"ports" description:"List serial ports and probe them for an arm"`
	Setup   SetupCommand   `command:"setup" description:"Select the arm's port and write the configuration"`
	Home    HomeCommand    `command:"home" description:"Home the arm"`
	Move    MoveCommand    `command:"move" description:"Move to an absolute position"`
	Jog     JogCommand     `command:"jog" description:"Move one axis by a relative amount"`
	Suction SuctionCommand `command:"suction" description:"Set the pneumatic pump"`
	Status  StatusCommand  `command:"status" description:"Show arm position and state"`
	Teach   TeachCommand   `command:"teach" description:"Record the pick and hook positions by hand"`
	Cycle   CycleCommand   `command:"cycle" alias:"run" description:"Run the pick-and-place cycle"`
	History HistoryCommand `command:"history" description:"Show the persistent command audit trail"`
	Stop    StopCommand    `command:"stop" description:"Quick-stop the arm"`
}

var opts = Options{Config: config.DefaultConfigFile}
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "bladeloader - pneumatic pick-and-place for the Rotrics DexArm"

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
