package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile  string
	DecodeFile  string
	RenderFile  string
	OutputFile  string
	Format      string
	NativeUnits bool
	Rotation    int
	Trim        bool
	HttpPort    int
	LogLevel    string
}

// AppRunner is the surface main drives; tests substitute a mock
type AppRunner interface {
	ApplyOptions(opts AppOptions)
	RunDecode() error
	RunRender() error
	RunService() error
}

func run(args []string, out io.Writer, app AppRunner) error {
	fs := flag.NewFlagSet("tudocam", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.DecodeFile, "decode", "", "Decode a raw map payload file, print a summary and exit")
	fs.StringVar(&opts.RenderFile, "render", "", "Render a raw map payload file and exit")
	fs.StringVar(&opts.OutputFile, "output", "map.png", "Output file for --render (.png, .svg or .geojson)")
	fs.StringVar(&opts.Format, "format", "hypfer", "Payload format for --decode/--render: hypfer or rand256")
	fs.BoolVar(&opts.NativeUnits, "native-units", false, "Hypfer payload uses device units instead of map cells")
	fs.IntVar(&opts.Rotation, "rotation", 0, "Rotate the rendered frame counter-clockwise: 0, 90, 180 or 270")
	fs.BoolVar(&opts.Trim, "trim", false, "Trim the rendered frame to its content")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "Override the HTTP server port from the config")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Override the log level from the config (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	fmt.Fprintf(out, "tudocam version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.DecodeFile != "":
		return app.RunDecode()
	case opts.RenderFile != "":
		return app.RunRender()
	default:
		fmt.Fprintln(out, "tudocam service starting...")
		return app.RunService()
	}
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp(os.Stdout)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "tudocam: %v\n", err)
		os.Exit(1)
	}
}
