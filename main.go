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

// AppOptions holds the parsed command line.
type AppOptions struct {
	ConfigFile string
	DataDir    string
	HttpMode   bool
	HttpPort   int
	MqttMode   bool
	ReplayFile string
	Owner      string
	Mode       string
	Smooth     bool
}

// Runner is what run drives; App implements it.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunService()
	RunReplay(path string)
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("turfwar", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.DataDir, "data-dir", ".", "Directory for config.yaml and the database")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable the HTTP API")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Receive player locations and publish events over MQTT")
	fs.StringVar(&opts.ReplayFile, "replay", "", "Replay a recorded JSON fix list and print the resulting claim")
	fs.StringVar(&opts.Owner, "owner", "", "Player ID for --replay; when set the claim is saved")
	fs.StringVar(&opts.Mode, "mode", "dominio", "Capture mode for --replay: dominio or livre")
	fs.BoolVar(&opts.Smooth, "smooth", false, "Smooth and simplify the trace before computing the claim")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "turfwar version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.ReplayFile != "":
		app.RunReplay(opts.ReplayFile)
	case opts.MqttMode || opts.HttpMode:
		app.RunService()
	default:
		fmt.Fprintln(out, "turfwar service starting...")
		fmt.Fprintln(out, "Use --mqtt to track players over MQTT")
		fmt.Fprintln(out, "Use --http to serve the HTTP API")
		fmt.Fprintln(out, "Use --mqtt --http to run both together")
		fmt.Fprintln(out, "Use --replay=trace.json [--mode=livre] [--owner=ID] to replay a recorded walk")
		fmt.Fprintln(out, "\nConfiguration:")
		fmt.Fprintln(out, "  config.yaml - MQTT settings, players, database and thresholds")
	}
	return nil
}
