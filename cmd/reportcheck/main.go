// Command reportcheck parses a local storm report file offline and prints
// per-section counts, so a suspect file can be inspected before (or
// instead of) ingesting it.
//
// Usage:
//
//	go run ./cmd/reportcheck -file 260412_rpts.txt -date 2026-04-12 [-v]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/couchcryptid/storm-watch/internal/domain"
	"github.com/couchcryptid/storm-watch/internal/feed/reports"
)

func main() {
	file := flag.String("file", "", "path to a storm report file")
	dateStr := flag.String("date", "", "nominal file date (YYYY-MM-DD); defaults to today")
	verbose := flag.Bool("v", false, "print every parsed report")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(1)
	}

	date := time.Now().UTC().Truncate(24 * time.Hour)
	if *dateStr != "" {
		parsed, err := time.Parse("2006-01-02", *dateStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -date %q: %v\n", *dateStr, err)
			os.Exit(1)
		}
		date = parsed
	}

	if code := run(*file, date, *verbose); code != 0 {
		os.Exit(code)
	}
}

func run(path string, date time.Time, verbose bool) int {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open report file: %v\n", err)
		return 1
	}
	defer f.Close()

	result, err := reports.Parse(context.Background(), date, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse report file: %v\n", err)
		return 1
	}

	counts := map[domain.ReportCategory]int{}
	unknown := 0
	for _, r := range result.Reports {
		counts[r.Category]++
		if r.UnknownMag {
			unknown++
		}
		if verbose {
			mag := fmt.Sprintf("%g", r.Magnitude)
			if r.UnknownMag {
				mag = "UNK"
			}
			fmt.Printf("  %s %-7s %s, %s (%.4f,%.4f) mag=%s\n",
				r.Time.Format("15:04"), r.Category, r.County, r.State,
				r.Lat, r.Lon, mag)
		}
	}

	fmt.Printf("file:      %s\n", path)
	fmt.Printf("date:      %s\n", date.Format("2006-01-02"))
	fmt.Printf("tornado:   %d\n", counts[domain.CategoryTornado])
	fmt.Printf("wind:      %d\n", counts[domain.CategoryWind])
	fmt.Printf("hail:      %d\n", counts[domain.CategoryHail])
	fmt.Printf("unknown magnitude: %d\n", unknown)
	fmt.Printf("malformed lines:   %d\n", result.Malformed)

	if result.Malformed > 0 {
		return 2
	}
	return 0
}
