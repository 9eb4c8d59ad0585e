// Command cargo-fetch reads a newline-delimited list of "name/version"
// entries, downloads each directly from the upstream registry
// (chasing redirects itself), and writes them all into a single tar
// archive with each crate stored at "name/version".
package main

import (
	"archive/tar"
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/omalloc/crateproxy/proxy"
)

func main() {
	listPath := flag.String("list", "-", "path to newline-delimited name/version list, - for stdin")
	baseURL := flag.String("base-url", "https://crates.io/api/v1/crates", "upstream registry base URL")
	outPath := flag.String("out", "crates.tar", "output tar archive path")
	flag.Parse()

	names, err := readList(*listPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cargo-fetch: %v\n", err)
		os.Exit(1)
	}

	out, err := os.Create(*outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cargo-fetch: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()

	tw := tar.NewWriter(out)
	defer tw.Close()

	client := proxy.New(nil)
	for _, nv := range names {
		name, version, ok := strings.Cut(nv, "/")
		if !ok {
			fmt.Fprintf(os.Stderr, "cargo-fetch: skipping malformed entry %q\n", nv)
			continue
		}

		if err := fetchInto(tw, client, *baseURL, name, version); err != nil {
			fmt.Fprintf(os.Stderr, "cargo-fetch: %s/%s: %v\n", name, version, err)
			continue
		}
		fmt.Printf("fetched %s/%s\n", name, version)
	}
}

func fetchInto(tw *tar.Writer, client *proxy.Client, baseURL, name, version string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/%s/%s/download", baseURL, name, version)
	resp, err := client.Fetch(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	hdr := &tar.Header{
		Name: name + "/" + version,
		Mode: 0o644,
		Size: int64(len(body)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header: %w", err)
	}
	if _, err := tw.Write(body); err != nil {
		return fmt.Errorf("write tar body: %w", err)
	}
	return nil
}

func readList(path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	return names, scanner.Err()
}
