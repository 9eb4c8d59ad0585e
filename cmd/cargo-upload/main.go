// Command cargo-upload reads a tar archive produced by cargo-fetch
// (entries named "name/version") and uploads each one to a mirror over
// the control plane.
package main

import (
	"archive/tar"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/omalloc/crateproxy/controlplane"
	"github.com/omalloc/crateproxy/wire"
)

func main() {
	archivePath := flag.String("archive", "crates.tar", "tar archive of fetched crates")
	controlAddr := flag.String("control-plane", "127.0.0.1:4004", "mirror control-plane address")
	flag.Parse()

	f, err := os.Open(*archivePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cargo-upload: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client, err := controlplane.Dial(ctx, *controlAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cargo-upload: dial control plane: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "cargo-upload: read tar: %v\n", err)
			os.Exit(1)
		}

		name, version, ok := strings.Cut(hdr.Name, "/")
		if !ok {
			fmt.Fprintf(os.Stderr, "cargo-upload: skipping malformed entry %q\n", hdr.Name)
			continue
		}

		content, err := io.ReadAll(tr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cargo-upload: %s: %v\n", hdr.Name, err)
			continue
		}

		if err := client.UploadCrate(wire.PackageId{Name: name, Version: version}, content); err != nil {
			fmt.Fprintf(os.Stderr, "cargo-upload: %s/%s: %v\n", name, version, err)
			continue
		}
		fmt.Printf("uploaded %s/%s\n", name, version)
	}
}
