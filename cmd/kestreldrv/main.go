// Package main provides the Kestrel driver: a harness that runs each
// primitive with random inputs on the host reference and, when a GPU is
// present, on the device path, comparing and timing the two.
package main

import (
	"fmt"
	"os"
)

const version = "v0.1.0-dev"

type command struct {
	name  string
	brief string
	run   func(args []string) error
}

func commands() []command {
	return []command{
		{"bnorm", "batch normalization forward/backward", runBNorm},
		{"nllloss", "negative log-likelihood loss", runNLLLoss},
		{"kldivloss", "KL-divergence loss", runKLDivLoss},
		{"where", "broadcast masked select", runWhere},
		{"unfold", "im2col sliding blocks", runUnfold},
		{"adam", "Adam optimizer step", runAdam},
		{"argmin", "index of minimum along a dim", runArgmin},
	}
}

func usage() {
	fmt.Println("Kestrel primitives driver")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Usage: kestreldrv <primitive> [flags]")
	fmt.Println("Primitives:")
	for _, c := range commands() {
		fmt.Printf("  %-10s %s\n", c.name, c.brief)
	}
	fmt.Println("\nRun 'kestreldrv <primitive> -h' for flags.")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	if os.Args[1] == "version" {
		fmt.Printf("kestreldrv %s\n", version)
		return
	}
	for _, c := range commands() {
		if c.name == os.Args[1] {
			if err := c.run(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "kestreldrv %s: %v\n", c.name, err)
				os.Exit(1)
			}
			return
		}
	}
	fmt.Fprintf(os.Stderr, "kestreldrv: unknown primitive %q\n\n", os.Args[1])
	usage()
	os.Exit(2)
}
