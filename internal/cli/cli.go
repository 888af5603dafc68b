package cli

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/kr/text"
	"github.com/mitchellh/cli"

	"github.com/haxwithaxe/certdeploy-go/internal/common"
)

// CommonCLI is the shared flag/logging scaffolding for the certdeploy-server
// and certdeploy-client commands. Each embeds CommonCLI and adds its own
// domain flags.
type CommonCLI struct {
	UI       cli.Ui
	output   io.Writer
	ctx      context.Context
	help     string
	synopsis string

	// Logging
	flagLogLevel string
	flagLogJSON  bool

	Flags *flag.FlagSet
}

func NewCommonCLI(ctx context.Context, help, synopsis string, ui cli.Ui, logOutput io.Writer, name string) *CommonCLI {
	c := &CommonCLI{UI: ui, synopsis: synopsis, output: logOutput, ctx: ctx, help: help, Flags: flag.NewFlagSet(name, flag.ContinueOnError)}
	c.init()
	return c
}

func (c *CommonCLI) init() {
	c.Flags.StringVar(&c.flagLogLevel, "log-level", "",
		`CertDeploy log level. One of "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL". Defaults to the config file value, or "ERROR".`)
	c.Flags.BoolVar(&c.flagLogJSON, "log-json", false,
		"Enable or disable JSON output format for logging.")

	c.Flags.SetOutput(c.output)
}

func (c *CommonCLI) Context() context.Context {
	return c.ctx
}

func (c *CommonCLI) LogLevel() string {
	return c.flagLogLevel
}

func (c *CommonCLI) Output() io.Writer {
	return c.output
}

func (c *CommonCLI) Logger(output io.Writer, level, name string) hclog.Logger {
	return common.CreateLogger(output, level, c.flagLogJSON, name)
}

func (c *CommonCLI) Parse(args []string) error {
	return c.Flags.Parse(args)
}

func (c *CommonCLI) Error(message string, err error) int {
	c.UI.Error("There was an error " + message + ":\n\t" + err.Error())
	return 1
}

func (c *CommonCLI) Success(message string) int {
	c.UI.Output(message)
	return 0
}

func (c *CommonCLI) Synopsis() string {
	return c.synopsis
}

// Help renders usage text against whatever flags are registered on c.Flags
// at call time, so an embedding command's domain flags (added after
// NewCommonCLI returns) still show up.
func (c *CommonCLI) Help() string {
	return FlagUsage(c.help, c.Flags)
}

// EnvOr returns the named environment variable, or fall if it's unset or
// empty. It lets a flag default fall through to its environment-variable
// equivalent before the config file value applies.
func EnvOr(key, fall string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fall
}

// EnvBool reports whether the named environment variable is set to a
// recognizably truthy value ("1", "true", "yes", case-insensitively).
func EnvBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func LogAndDie(logger hclog.Logger, message string, err error) int {
	logger.Error("error "+message, "error", err)
	return 1
}

func LogSuccess(logger hclog.Logger, message string) int {
	logger.Info(message)
	return 0
}

func FlagUsage(usage string, flags *flag.FlagSet) string {
	out := new(bytes.Buffer)
	out.WriteString(strings.TrimSpace(usage))
	out.WriteString("\n")
	out.WriteString("\n")

	printTitle(out, "Command Options")
	flags.VisitAll(func(f *flag.Flag) {
		printFlag(out, f)
	})

	return strings.TrimRight(out.String(), "\n")
}

// printTitle prints a consistently-formatted title to the given writer.
func printTitle(w io.Writer, s string) {
	fmt.Fprintf(w, "%s\n\n", s)
}

// printFlag prints a single flag to the given writer.
func printFlag(w io.Writer, f *flag.Flag) {
	example, _ := flag.UnquoteUsage(f)
	if example != "" {
		fmt.Fprintf(w, "  -%s=<%s>\n", f.Name, example)
	} else {
		fmt.Fprintf(w, "  -%s\n", f.Name)
	}

	indented := wrapAtLength(f.Usage, 5)
	fmt.Fprintf(w, "%s\n\n", indented)
}

// maxLineLength is the maximum width of any line.
const maxLineLength int = 72

// wrapAtLength wraps the given text at the maxLineLength, taking into account
// any provided left padding.
func wrapAtLength(s string, pad int) string {
	wrapped := text.Wrap(s, maxLineLength-pad)
	lines := strings.Split(wrapped, "\n")
	for i, line := range lines {
		lines[i] = strings.Repeat(" ", pad) + line
	}
	return strings.Join(lines, "\n")
}
