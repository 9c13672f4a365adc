// ABOUTME: Command line entry point for the reader
// ABOUTME: Loads configuration, builds the client and runs one command against it

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"digests-reader/pkg/config"
	"digests-reader/pkg/featureflags"
	"digests-reader/reader"
)

const usage = `usage: reader [flags] <command> [args]

commands:
  feeds <url>...    fetch feeds and print their items
  add <url>...      add feeds one by one and report failures
  article <url>     fetch the reader view for an article
  migrate           import entries from the legacy store
  info              print durable storage usage
  clear             drop every cached and persisted entry

flags:
`

func main() {
	page := flag.Int("page", 1, "page of items to print for feeds")
	perPage := flag.Int("per-page", 20, "items per page for feeds")
	backend := flag.String("storage", "", "override STORAGE_BACKEND (sqlite, redis, memory)")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *backend != "" {
		cfg.Storage.Backend = *backend
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flags := featureflags.NewEnvManager("")
	client, err := reader.NewClient(ctx, reader.WithSettings(cfg), reader.WithFlags(flags))
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	cmd := command{client: client, out: os.Stdout, page: *page, perPage: *perPage}
	runErr := cmd.run(ctx, flag.Arg(0), flag.Args()[1:])

	if err := client.Close(context.Background()); err != nil {
		log.Printf("Failed to close client: %v", err)
	}
	if runErr != nil {
		log.Fatalf("%s: %v", flag.Arg(0), runErr)
	}
}

type command struct {
	client  *reader.Client
	out     io.Writer
	page    int
	perPage int
}

func (c command) run(ctx context.Context, name string, args []string) error {
	switch name {
	case "feeds":
		if len(args) == 0 {
			return fmt.Errorf("at least one feed URL is required")
		}
		items, err := c.client.Items(ctx, args, c.page, c.perPage)
		if err != nil {
			return err
		}
		return c.print(items)
	case "add":
		if len(args) == 0 {
			return fmt.Errorf("at least one feed URL is required")
		}
		result, err := c.client.AddFeeds(ctx, args)
		if err != nil {
			return err
		}
		for _, f := range result.Feeds {
			fmt.Fprintf(c.out, "added  %s (%s)\n", f.URL, f.Title)
		}
		for _, u := range result.FailedURLs {
			fmt.Fprintf(c.out, "failed %s: %v\n", u, result.Errors[u])
		}
		return nil
	case "article":
		if len(args) != 1 {
			return fmt.Errorf("exactly one article URL is required")
		}
		view, err := c.client.Article(ctx, args[0])
		if err != nil {
			return err
		}
		return c.print(view)
	case "migrate":
		results, err := c.client.Migrate(ctx)
		names := make([]string, 0, len(results))
		for plan := range results {
			names = append(names, plan)
		}
		sort.Strings(names)
		for _, plan := range names {
			r := results[plan]
			if r == nil {
				continue
			}
			fmt.Fprintf(c.out, "%-12s migrated=%d failed=%d skipped=%d verified=%t\n",
				plan, r.Migrated, r.Failed, r.Skipped, r.Verified)
		}
		return err
	case "info":
		info, err := c.client.StorageInfo(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "entries: %d\nused:    %d bytes\nquota:   %d bytes (%.1f%%)\n",
			info.Count, info.Used, info.Quota, info.UsagePercent())
		if !info.OldestEntry.IsZero() {
			fmt.Fprintf(c.out, "oldest:  %s\n", info.OldestEntry.Format("2006-01-02 15:04:05"))
		}
		return nil
	case "clear":
		if err := c.client.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "cleared")
		return nil
	}
	return fmt.Errorf("unknown command %q", name)
}

func (c command) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
