// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/gmofishsauce/river/internal/core"
	"github.com/gmofishsauce/river/internal/isa"
	"github.com/gmofishsauce/river/internal/logging"
	"github.com/gmofishsauce/river/internal/trace"
)

var (
	traceFile   = flag.String("trace", "", "Write architectural retire trace to file")
	maxCycles   = flag.Uint64("max-cycles", 0, "Stop after N cycles (0 = unlimited)")
	memSize     = flag.Uint64("mem-size", 64<<20, "Backing RAM size in bytes")
	resetVector = flag.Uint64("reset-vector", 0x10000, "Hart reset PC")
	prettyLog   = flag.Bool("pretty-log", false, "Render diagnostic log as console text instead of JSON")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

const version = "1.0.0"

var savedTermState *term.State

// setupTerminal puts the terminal in raw mode so a debug-mode session
// attached over stdin/stdout sees every keystroke immediately, the way
// the teacher's UART emulation expects.
func setupTerminal() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	state, err := term.GetState(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("failed to get terminal state: %v", err)
	}
	savedTermState = state
	if _, err := term.MakeRaw(int(os.Stdin.Fd())); err != nil {
		return fmt.Errorf("failed to set raw mode: %v", err)
	}
	return nil
}

func restoreTerminal() {
	if savedTermState != nil && term.IsTerminal(int(os.Stdin.Fd())) {
		term.Restore(int(os.Stdin.Fd()), savedTermState)
	}
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("river RV64IMAC simulator v%s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) != 1 {
		usage()
		os.Exit(1)
	}
	imageFile := args[0]

	data, err := os.ReadFile(imageFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading image file: %v\n", err)
		os.Exit(1)
	}

	logging.L = logging.New(os.Stderr, *prettyLog)

	ram := core.NewRAM(int(*memSize))
	ram.Load(*resetVector, data)

	var tracer *trace.Tracer
	if *traceFile != "" {
		f, err := os.Create(*traceFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating trace file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()

		tracer = trace.New(f)
		fmt.Fprintf(f, "river execution trace\n")
		fmt.Fprintf(f, "Image: %s\n", imageFile)
		fmt.Fprintf(f, "Size: %d bytes\n", len(data))
		fmt.Fprintf(f, "========================================\n\n")
	}

	cfg := isa.Default()
	cfg.ResetVector = *resetVector
	hart := core.NewHart(cfg, ram, tracer)

	if err := setupTerminal(); err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up terminal: %v\n", err)
		os.Exit(1)
	}
	defer restoreTerminal()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		restoreTerminal()
		os.Exit(130)
	}()

	startTime := time.Now()
	cycles, haltErr := runHart(hart, *maxCycles)
	elapsed := time.Since(startTime)

	restoreTerminal()

	fmt.Fprintf(os.Stderr, "\n========================================\n")
	fmt.Fprintf(os.Stderr, "Execution completed\n")
	fmt.Fprintf(os.Stderr, "Cycles: %d\n", cycles)
	fmt.Fprintf(os.Stderr, "Time: %v\n", elapsed.Round(time.Millisecond))
	if elapsed.Seconds() > 0 {
		mhz := (float64(cycles) / 1_000_000.0) / elapsed.Seconds()
		fmt.Fprintf(os.Stderr, "Speed: %.3f MHz\n", mhz)
	}

	if haltErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", haltErr)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Exit: halted\n")
}

// runHart drives the hart one retirement at a time until it halts
// (debug-mode stop, WFI-forever is out of scope) or maxCycles is hit.
func runHart(h *core.Hart, maxCycles uint64) (uint64, error) {
	for {
		if maxCycles > 0 && h.Cycle >= maxCycles {
			fmt.Fprintf(os.Stderr, "\nMax cycles reached (%d)\n", maxCycles)
			return h.Cycle, nil
		}
		h.Step()
		if h.Halted {
			return h.Cycle, nil
		}
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <image-file>\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "river - RV64IMAC pipelined hart simulator\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nArguments:\n")
	fmt.Fprintf(os.Stderr, "  <image-file>    flat raw binary loaded at -reset-vector\n")
	fmt.Fprintf(os.Stderr, "\nUse -trace to generate a detailed retire-log file.\n")
}
