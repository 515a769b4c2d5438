// scanprobe is an operator diagnostic for the recording correlation
// heuristic: it scans a set of candidate directories the way the bridge
// would after a call and reports which files fall inside the window and
// which one would be picked. Useful when a device's recorder writes to
// an unexpected location.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/recsync/recsync/internal/config"
	"github.com/recsync/recsync/internal/locator"
	"github.com/recsync/recsync/internal/scanner"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (directories and window are taken from it)")
	dirsFlag := flag.String("dirs", "", "Comma-separated candidate directories (overrides config)")
	window := flag.Duration("window", locator.DefaultWindow, "Correlation window after call end")
	skew := flag.Duration("skew", locator.DefaultSkew, "Clock skew tolerance before call end")
	endedStr := flag.String("ended", "", "Call end time, RFC3339 (default: now)")
	flag.Parse()

	dirs, err := resolveDirs(*configPath, *dirsFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(dirs) == 0 {
		fmt.Fprintln(os.Stderr, "error: no directories; pass -dirs or -config")
		flag.Usage()
		os.Exit(1)
	}

	endedAt := time.Now()
	if *endedStr != "" {
		endedAt, err = time.Parse(time.RFC3339, *endedStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: parsing -ended: %v\n", err)
			os.Exit(1)
		}
	}

	lower := endedAt.Add(-*skew)
	upper := endedAt.Add(*window)
	fmt.Printf("call end: %s\nwindow:   %s .. %s\n\n",
		endedAt.Format(time.RFC3339), lower.Format(time.RFC3339), upper.Format(time.RFC3339))

	for _, dir := range dirs {
		fmt.Printf("%s\n", dir)
		files, err := scanner.List(dir)
		if err != nil {
			fmt.Printf("  (skipped: %v)\n", err)
			continue
		}
		if len(files) == 0 {
			fmt.Println("  (empty)")
			continue
		}
		for _, f := range files {
			mark := " "
			mt := time.UnixMilli(f.ModifiedAt)
			if !mt.Before(lower) && !mt.After(upper) {
				mark = "*"
			}
			fmt.Printf("  %s %s  %7d bytes  %s\n", mark, mt.Format(time.RFC3339), f.SizeBytes, f.Name)
		}
	}

	quiet := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	match := locator.New(dirs, *window, *skew, quiet).Locate(endedAt)

	fmt.Println()
	if match == nil {
		fmt.Println("no file qualifies for this window")
		return
	}
	fmt.Printf("would pick: %s (modified %s)\n",
		match.Path, time.UnixMilli(match.ModifiedAt).Format(time.RFC3339))
}

func resolveDirs(configPath, dirsFlag string) ([]string, error) {
	if dirsFlag != "" {
		var dirs []string
		for _, d := range strings.Split(dirsFlag, ",") {
			if d = strings.TrimSpace(d); d != "" {
				dirs = append(dirs, d)
			}
		}
		return dirs, nil
	}
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return cfg.Recordings.Directories, nil
	}
	return nil, nil
}
