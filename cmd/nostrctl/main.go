// Package main is nostrctl, a thin command-line wrapper around the
// client package for publishing, fetching, and syncing events against
// a relay pool from the shell.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nostrcore/relaypool/client"
	"github.com/nostrcore/relaypool/nostr"
)

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	configPath := flag.String("config", "nostrctl.yaml", "path to the client config file")
	timeout := flag.Duration("timeout", 10*time.Second, "connect/operation timeout")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := client.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}

	c, err := client.New(cfg)
	if err != nil {
		log.Fatalf("[client] %v", err)
	}
	defer c.Shutdown()

	log.Printf("[client] pubkey: %s", c.PubKey())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[nostrctl] shutting down...")
		cancel()
	}()

	if !c.Connect(*timeout) {
		log.Fatalf("[client] timed out connecting to any relay")
	}

	switch cmd := flag.Arg(0); cmd {
	case "publish":
		runPublish(ctx, c, flag.Args()[1:])
	case "fetch":
		runFetch(ctx, c, flag.Args()[1:])
	case "sync":
		runSync(ctx, c, flag.Args()[1:])
	default:
		log.Fatalf("[nostrctl] unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: nostrctl [-config path] [-timeout d] <publish|fetch|sync> [args]")
	fmt.Fprintln(os.Stderr, "  publish <kind> <content>")
	fmt.Fprintln(os.Stderr, "  fetch <kind> [author-hex...]")
	fmt.Fprintln(os.Stderr, "  sync <kind>")
}

func runPublish(ctx context.Context, c *client.Client, args []string) {
	if len(args) < 2 {
		log.Fatalf("[publish] usage: publish <kind> <content>")
	}
	kind := parseKind(args[0])
	content := strings.Join(args[1:], " ")

	e, out, err := c.Publish(ctx, nostr.NewBuilder(kind).Content(content))
	if err != nil {
		log.Fatalf("[publish] %v", err)
	}
	log.Printf("[publish] id=%s success=%d failed=%d", e.ID, len(out.Success), len(out.Failed))
	for url, err := range out.Failed {
		log.Printf("[publish]   %s: %v", url, err)
	}
}

func runFetch(ctx context.Context, c *client.Client, args []string) {
	if len(args) < 1 {
		log.Fatalf("[fetch] usage: fetch <kind> [author-hex...]")
	}
	kind := parseKind(args[0])
	filter := nostr.Filter{Kinds: []int{kind}, Authors: parsePubKeys(args[1:])}

	events, err := c.Fetch(ctx, filter)
	if err != nil {
		log.Fatalf("[fetch] %v", err)
	}
	for _, e := range events {
		log.Printf("[fetch] %s %s %q", e.ID, e.PubKey, e.Content)
	}
	log.Printf("[fetch] %d events", len(events))
}

func runSync(ctx context.Context, c *client.Client, args []string) {
	if len(args) < 1 {
		log.Fatalf("[sync] usage: sync <kind>")
	}
	kind := parseKind(args[0])
	filter := &nostr.Filter{Kinds: []int{kind}}

	results, err := c.Sync(ctx, filter)
	if err != nil {
		log.Fatalf("[sync] %v", err)
	}
	for url, res := range results {
		log.Printf("[sync] %s: have=%d need=%d", url, len(res.Have), len(res.Need))
	}
}

func parseKind(s string) int {
	var kind int
	if _, err := fmt.Sscanf(s, "%d", &kind); err != nil {
		log.Fatalf("[nostrctl] invalid kind %q", s)
	}
	return kind
}

func parsePubKeys(hexes []string) []nostr.PubKey {
	out := make([]nostr.PubKey, 0, len(hexes))
	for _, h := range hexes {
		pk, err := nostr.ParsePubKey(h)
		if err != nil {
			log.Fatalf("[nostrctl] invalid pubkey %q: %v", h, err)
		}
		out = append(out, pk)
	}
	return out
}
