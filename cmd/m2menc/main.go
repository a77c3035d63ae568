// Command m2menc encodes raw video with a V4L2 memory-to-memory hardware
// encoder and writes H.264 to an Annex-B file or an RTP stream.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"
)

var version = "dev"

// Globals are flags shared by every subcommand.
type Globals struct {
	LogLevel  string `short:"l" default:"info" enum:"debug,info,warn,error" help:"Log level (debug, info, warn, error)."`
	LogFormat string `default:"text" enum:"text,json" help:"Log format (text, json)."`

	Stdout io.Writer `kong:"-"`
}

// AfterApply configures logging once flags are parsed.
func (g *Globals) AfterApply() error {
	return setupLogging(g.LogLevel, g.LogFormat)
}

// CLI defines the command-line interface with subcommands.
type CLI struct {
	Globals

	Encode  EncodeCmd  `cmd:"" help:"Encode raw I420 or NV12 frames."`
	Probe   ProbeCmd   `cmd:"" help:"Show what an encoder device supports."`
	Config  ConfigCmd  `cmd:"" help:"Print the effective configuration as YAML."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// Run prints the version.
func (cmd *VersionCmd) Run(g *Globals) error {
	_, err := fmt.Fprintf(g.Stdout, "m2menc %s\n", version)
	return err
}

func setupLogging(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stderr)
	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func newParser(cli *CLI, options ...kong.Option) (*kong.Kong, error) {
	options = append([]kong.Option{
		kong.Name("m2menc"),
		kong.Description("Encode raw video with a V4L2 M2M hardware encoder."),
		kong.UsageOnError(),
	}, options...)
	return kong.New(cli, options...)
}

func main() {
	cli := CLI{Globals: Globals{Stdout: os.Stdout}}

	parser, err := newParser(&cli)
	if err != nil {
		panic(err)
	}
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	err = ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
