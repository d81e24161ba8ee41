// kbload discovers markdown files and ingests them through a running
// kbpipe server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/kailas-cloud/kbpipe/pkg/sdk"
)

func main() {
	_ = godotenv.Load()

	var (
		server = flag.String("server", envOr("KBPIPE_SERVER", "http://localhost:8080"), "kbpipe server base URL")
		apiKey = flag.String("api-key", os.Getenv("KBPIPE_API_KEY"), "API key for the server")
		dir    = flag.String("dir", "", "directory to scan recursively for markdown files")
		ext    = flag.String("ext", ".md,.markdown", "comma-separated file extensions to include")
	)
	flag.Parse()

	paths, err := collectPaths(*dir, flag.Args(), parseExts(*ext))
	if err != nil {
		fatal("collect files: %v", err)
	}
	if len(paths) == 0 {
		fatal("no input files; pass -dir or file arguments")
	}

	root := *dir
	docs := make([]sdk.Document, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			fatal("read %s: %v", path, err)
		}
		docs = append(docs, sdk.Document{
			ID:       documentID(root, path),
			Text:     string(data),
			Metadata: map[string]string{"source": path},
		})
	}

	client := sdk.New(*server, sdk.WithAPIKey(*apiKey))
	report, err := client.Ingest(context.Background(), docs)
	if err != nil {
		fatal("ingest: %v", err)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fatal("render report: %v", err)
	}
	fmt.Println(string(out))

	if report.DocumentsFailed > 0 || report.RecordsFailed > 0 {
		os.Exit(1)
	}
}

// collectPaths gathers files from the directory scan plus explicit arguments.
func collectPaths(dir string, args []string, exts map[string]struct{}) ([]string, error) {
	var paths []string

	if dir != "" {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if _, ok := exts[strings.ToLower(filepath.Ext(path))]; ok {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory, use -dir", arg)
		}
		paths = append(paths, arg)
	}

	return paths, nil
}

func parseExts(s string) map[string]struct{} {
	exts := make(map[string]struct{})
	for _, e := range strings.Split(s, ",") {
		e = strings.TrimSpace(strings.ToLower(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}
	return exts
}

// documentID derives a stable ID from the file path: relative to the scan
// root when possible, with path separators normalized.
func documentID(root, path string) string {
	id := path
	if root != "" {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			id = rel
		}
	}
	id = filepath.ToSlash(id)
	return strings.TrimSuffix(id, filepath.Ext(id))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "kbload: "+format+"\n", args...)
	os.Exit(1)
}
