package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/danmuck/probectl/internal/logging"
	"github.com/danmuck/probectl/internal/observability"
	"github.com/danmuck/probectl/internal/protocol"
	"github.com/danmuck/probectl/internal/session"
)

const defaultAgentAddr = "127.0.0.1:2345"

func main() {
	var (
		configPath string
		addr       string
		debugHTTP  string
		timeout    time.Duration
	)
	flag.StringVar(&configPath, "config", "", "path to a TOML session profile")
	flag.StringVar(&addr, "addr", defaultAgentAddr, "debug agent address (host:port)")
	flag.StringVar(&debugHTTP, "debug-http", "", "serve /health and /metrics on this address")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for one command")
	flag.Usage = usage
	flag.Parse()

	if debugHTTP != "" {
		observability.InitLogger("probectl")
	} else {
		logging.ConfigureRuntime()
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg := session.DefaultConfig()
	if configPath != "" {
		loaded, profileAddr, err := loadSessionConfig(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "probectl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
		if profileAddr != "" && !flag.CommandLine.Changed("addr") {
			addr = profileAddr
		}
	}

	if debugHTTP != "" {
		go serveDebugHTTP(debugHTTP)
	}

	app := &app{sess: session.New(cfg), timeout: timeout}
	defer app.sess.Close()

	if err := app.run(addr, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "probectl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `probectl talks to a debug agent over its binary session protocol.

Usage: probectl [flags] <command> [args]

Commands:
  hello                 probe the agent and print its architecture
  ps                    print the target job/process tree
  threads <koid>        list the threads of one process
  mem <addr> <size>     read and hexdump target memory
  attach <koid>         attach the agent to a running process
  launch <argv...>      launch a process under the agent

Flags:
`)
	flag.PrintDefaults()
}

type app struct {
	sess    *session.Session
	timeout time.Duration
}

// wait bridges one callback-style session operation into a synchronous
// command. The callback stores its reply before signalling done.
func (a *app) wait(start func(done func(error))) error {
	errs := make(chan error, 1)
	start(func(err error) { errs <- err })
	select {
	case err := <-errs:
		return err
	case <-time.After(a.timeout):
		return fmt.Errorf("timed out after %s", a.timeout)
	}
}

func (a *app) run(addr string, command string, args []string) error {
	if err := a.wait(func(done func(error)) { a.sess.Connect(addr, done) }); err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	log.Debug().Str("addr", addr).Str("command", command).Msg("connected to agent")

	switch command {
	case "hello":
		return a.cmdHello()
	case "ps":
		return a.cmdProcessTree()
	case "threads":
		if len(args) != 1 {
			return fmt.Errorf("usage: threads <koid>")
		}
		return a.cmdThreads(args[0])
	case "mem":
		if len(args) != 2 {
			return fmt.Errorf("usage: mem <addr> <size>")
		}
		return a.cmdReadMemory(args[0], args[1])
	case "attach":
		if len(args) != 1 {
			return fmt.Errorf("usage: attach <koid>")
		}
		return a.cmdAttach(args[0])
	case "launch":
		if len(args) == 0 {
			return fmt.Errorf("usage: launch <argv...>")
		}
		return a.cmdLaunch(args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) cmdHello() error {
	var reply protocol.HelloReply
	err := a.wait(func(done func(error)) {
		a.sess.Hello(func(r protocol.HelloReply, err error) {
			reply = r
			done(err)
		})
	})
	if err != nil {
		return err
	}
	fmt.Println("Agent")
	fmt.Printf("  arch:      %s\n", reply.Arch)
	fmt.Printf("  page_size: %d\n", reply.PageSize)
	return nil
}

func (a *app) cmdProcessTree() error {
	var reply protocol.ProcessTreeReply
	err := a.wait(func(done func(error)) {
		a.sess.ProcessTree(func(r protocol.ProcessTreeReply, err error) {
			reply = r
			done(err)
		})
	})
	if err != nil {
		return err
	}
	fmt.Println("Process Tree")
	printTreeNode(reply.Root, 0)
	return nil
}

func printTreeNode(rec protocol.ProcessTreeRecord, depth int) {
	kind := "job"
	if rec.Kind == protocol.ObjectProcess {
		kind = "process"
	}
	fmt.Printf("  %s%-7s koid=%d name=%q\n", strings.Repeat("  ", depth), kind, rec.Koid, rec.Name)
	for _, child := range rec.Children {
		printTreeNode(child, depth+1)
	}
}

func (a *app) cmdThreads(rawKoid string) error {
	koid, err := parseKoid(rawKoid)
	if err != nil {
		return err
	}
	var reply protocol.ThreadsReply
	err = a.wait(func(done func(error)) {
		a.sess.Threads(protocol.ThreadsRequest{ProcessKoid: koid}, func(r protocol.ThreadsReply, err error) {
			reply = r
			done(err)
		})
	})
	if err != nil {
		return err
	}
	fmt.Printf("Threads of process %d\n", koid)
	if len(reply.Threads) == 0 {
		fmt.Println("  (none)")
		return nil
	}
	for _, thread := range reply.Threads {
		fmt.Printf("  koid=%-8d name=%q\n", thread.Koid, thread.Name)
	}
	return nil
}

func (a *app) cmdReadMemory(rawAddr string, rawSize string) error {
	address, err := strconv.ParseUint(rawAddr, 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q", rawAddr)
	}
	size, err := strconv.ParseUint(rawSize, 0, 64)
	if err != nil {
		return fmt.Errorf("invalid size %q", rawSize)
	}

	var reply protocol.ReadMemoryReply
	err = a.wait(func(done func(error)) {
		a.sess.ReadMemory(protocol.ReadMemoryRequest{Address: address, Size: size}, func(r protocol.ReadMemoryReply, err error) {
			reply = r
			done(err)
		})
	})
	if err != nil {
		return err
	}
	fmt.Printf("Memory %#x +%d\n", address, size)
	for _, block := range reply.Blocks {
		if !block.Valid {
			fmt.Printf("  %#x +%d (unmapped)\n", block.Address, block.Size)
			continue
		}
		fmt.Printf("  %#x +%d\n", block.Address, block.Size)
		fmt.Print(indentLines(hex.Dump(block.Data), "    "))
	}
	return nil
}

func (a *app) cmdAttach(rawKoid string) error {
	koid, err := parseKoid(rawKoid)
	if err != nil {
		return err
	}
	var reply protocol.AttachReply
	err = a.wait(func(done func(error)) {
		a.sess.Attach(protocol.AttachRequest{Koid: koid}, func(r protocol.AttachReply, err error) {
			reply = r
			done(err)
		})
	})
	if err != nil {
		return err
	}
	if reply.Status != 0 {
		return fmt.Errorf("agent refused attach to %d (status=%d)", koid, reply.Status)
	}
	fmt.Printf("Attached to process %d\n", koid)
	return nil
}

func (a *app) cmdLaunch(argv []string) error {
	var reply protocol.LaunchReply
	err := a.wait(func(done func(error)) {
		a.sess.Launch(protocol.LaunchRequest{Argv: argv}, func(r protocol.LaunchReply, err error) {
			reply = r
			done(err)
		})
	})
	if err != nil {
		return err
	}
	if reply.Status != 0 {
		return fmt.Errorf("agent failed to launch %q (status=%d)", argv[0], reply.Status)
	}
	fmt.Println("Launched")
	fmt.Printf("  argv:         %s\n", strings.Join(argv, " "))
	fmt.Printf("  process_koid: %d\n", reply.ProcessKoid)
	return nil
}

func parseKoid(raw string) (uint64, error) {
	v, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid koid %q", raw)
	}
	return v, nil
}

func indentLines(s string, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := range lines {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n") + "\n"
}
