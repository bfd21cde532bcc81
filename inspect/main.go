// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// The inspect tool validates an ELF payload against a simulated engine
// platform and exposes the loader state through a command console.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"

	"golang.org/x/term"
	"k8s.io/klog/v2"

	"github.com/usbarmory/riscv-bootloader/inspect/cmd"
	"github.com/usbarmory/riscv-bootloader/inspect/platform"
	"github.com/usbarmory/riscv-bootloader/util"
)

var (
	profilePath = flag.String("profile", "", "platform profile (YAML)")
	elfPath     = flag.String("elf", "", "ELF payload")
	argsPath    = flag.String("args", "", "boot arguments blob (default: minimal header)")
	sshAddr     = flag.String("ssh", "", "serve the console over SSH on this address")
)

type stdio struct{}

func (stdio) Read(p []byte) (int, error) {
	return os.Stdin.Read(p)
}

func (stdio) Write(p []byte) (int, error) {
	return os.Stdout.Write(p)
}

func load() (pl *platform.Platform, err error) {
	p, err := platform.Load(*profilePath)

	if err != nil {
		return
	}

	img, err := os.ReadFile(*elfPath)

	if err != nil {
		return
	}

	var args []byte

	if *argsPath != "" {
		if args, err = os.ReadFile(*argsPath); err != nil {
			return
		}
	}

	return platform.New(p, img, args)
}

func console() *util.Console {
	return &util.Console{
		Banner:  fmt.Sprintf("%s/%s (%s) • riscv-bootloader inspect", runtime.GOOS, runtime.GOARCH, runtime.Version()),
		Help:    "type `help` for the command list",
		Handler: cmd.Handle,
	}
}

func interactive(c *util.Console) (err error) {
	fd := int(os.Stdin.Fd())

	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)

		if err != nil {
			return err
		}
		defer term.Restore(fd, state)
	}

	c.Serve(stdio{})

	return
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if *profilePath == "" || *elfPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	pl, err := load()

	if err != nil {
		klog.Exitf("could not load platform, %v", err)
	}

	cmd.Target = pl

	if line := strings.Join(flag.Args(), " "); line != "" {
		t := term.NewTerminal(stdio{}, "")

		if err = cmd.Handle(t, line); err != nil && err != io.EOF {
			klog.Exitf("%s: %v", line, err)
		}

		return
	}

	c := console()

	if *sshAddr == "" {
		if err = interactive(c); err != nil {
			klog.Exit(err)
		}

		return
	}

	listener, err := net.Listen("tcp", *sshAddr)

	if err != nil {
		klog.Exit(err)
	}

	if err = c.Listen(listener); err != nil {
		klog.Exit(err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig

	listener.Close()
}
