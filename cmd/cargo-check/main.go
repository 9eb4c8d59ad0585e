// Command cargo-check reads a Cargo.lock-style TOML lock file, keeps
// only the entries sourced from crates.io, asks a mirror's
// control-plane which of those it doesn't have cached yet, and prints
// the missing ones as "name/version" lines on stdout.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/omalloc/crateproxy/controlplane"
	"github.com/omalloc/crateproxy/wire"
)

const cratesIOSource = "registry+https://github.com/rust-lang/crates.io-index"

type lockFile struct {
	Package []lockPackage `toml:"package"`
}

type lockPackage struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Source  string `toml:"source"`
}

func main() {
	lockPath := flag.String("lock", "Cargo.lock", "path to the Cargo.lock-style TOML lock file")
	controlAddr := flag.String("control-plane", "127.0.0.1:4004", "mirror control-plane address")
	flag.Parse()

	ids, err := readLockFile(*lockPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cargo-check: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := controlplane.Dial(ctx, *controlAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cargo-check: dial control plane: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	missing, err := client.CheckMissing(ids)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cargo-check: %v\n", err)
		os.Exit(1)
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	for _, id := range missing {
		fmt.Fprintf(w, "%s/%s\n", id.Name, id.Version)
	}
}

func readLockFile(path string) ([]wire.PackageId, error) {
	var lock lockFile
	if _, err := toml.DecodeFile(path, &lock); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}

	ids := make([]wire.PackageId, 0, len(lock.Package))
	for _, pkg := range lock.Package {
		if pkg.Source != cratesIOSource {
			continue
		}
		ids = append(ids, wire.PackageId{Name: pkg.Name, Version: pkg.Version})
	}
	return ids, nil
}
