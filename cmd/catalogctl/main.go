package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"filecatalog/client"
	"filecatalog/config"
	"filecatalog/protocol"
)

var version string // Set by build environment

func main() {
	app := cli.NewApp()
	app.Name = "catalogctl"
	app.Usage = "Query a remote file catalog server"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "server, s",
			Usage: "Catalog server address",
			Value: config.DefaultListen,
		},
		cli.StringFlag{
			Name:  "output, o",
			Usage: "File that received archives are written to",
			Value: "temp.tar.gz",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Usage: "Connect timeout",
			Value: 10 * time.Second,
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "exec",
			Usage:     "Run a single catalog command and exit",
			ArgsUsage: "command [args...]",
			Action:    execAction,
		},
		{
			Name:   "commands",
			Usage:  "List the commands the server understands",
			Action: commandsAction,
		},
	}
	app.Action = shellAction

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func connect(c *cli.Context) (*client.Client, error) {
	if c.Parent() != nil {
		c = c.Parent()
	}
	return client.Dial(c.String("server"), c.Duration("timeout"))
}

func outputPath(c *cli.Context) string {
	if c.Parent() != nil {
		c = c.Parent()
	}
	return c.String("output")
}

func commandsAction(c *cli.Context) error {
	for _, v := range protocol.Verbs {
		fmt.Println(protocol.Usage(v))
	}
	return nil
}

func execAction(c *cli.Context) error {
	if !c.Args().Present() {
		return cli.NewExitError("exec: missing command", 1)
	}
	cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	_, err = runCommand(cl, strings.Join(c.Args(), " "), outputPath(c), os.Stdout)
	return err
}

func shellAction(c *cli.Context) error {
	cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	fmt.Printf("Connected to %s\n", c.String("server"))

	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("catalogctl: ")
		if !in.Scan() {
			fmt.Println()
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		quit, err := runCommand(cl, line, c.String("output"), os.Stdout)
		if err != nil {
			var usage *protocol.UsageError
			if errors.As(err, &usage) {
				fmt.Println(usage.Error())
				continue
			}
			return err
		}
		if quit {
			return nil
		}
	}
}

// runCommand sends one command and prints or saves its reply. It reports
// whether the session is over.
func runCommand(cl *client.Client, line, output string, stdout io.Writer) (bool, error) {
	out := &lazyFile{path: output}
	req, reply, err := cl.Do(line, out)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return false, err
	}

	if !reply.IsArtifact() {
		fmt.Fprint(stdout, reply.Text)
		return req.Verb == protocol.Quit, nil
	}

	fmt.Fprintf(stdout, "Received %s into %s\n", humanize.Bytes(uint64(reply.Size)), output)
	if req.Unpack {
		f, err := os.Open(output)
		if err != nil {
			return false, err
		}
		defer f.Close()
		files, err := client.Extract(f, ".")
		if err != nil {
			return false, errors.Wrap(err, "unpack")
		}
		fmt.Fprintf(stdout, "Unpacked %d files\n", len(files))
	}
	return false, nil
}

// lazyFile creates its file on first write, so text replies leave no file
// behind.
type lazyFile struct {
	path string
	f    *os.File
}

func (l *lazyFile) Write(p []byte) (int, error) {
	if l.f == nil {
		f, err := os.Create(l.path)
		if err != nil {
			return 0, err
		}
		l.f = f
	}
	return l.f.Write(p)
}

func (l *lazyFile) Close() error {
	if l.f == nil {
		return nil
	}
	return l.f.Close()
}
