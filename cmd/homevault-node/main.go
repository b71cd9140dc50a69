// Package main provides the homevault node CLI.
//
// A homevault node stores content-addressed blobs and pulls new ones on
// request from authorized peers:
//
//	homevault-node run                 start the node
//	homevault-node add <file>          import a file, print its ticket
//	homevault-node ticket <hash>       print a ticket for a stored hash
//	homevault-node backup ...          ask a remote node to pull tickets
//	homevault-node id                  print this node's peer id
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"homevault/internal/blob"
	"homevault/internal/config"
	"homevault/internal/control"
	"homevault/internal/identity"
	"homevault/internal/logging"
	"homevault/internal/metrics"
	"homevault/internal/network"
	"homevault/internal/peerbook"
)

func main() {
	app := &cli.App{
		Name:  "homevault-node",
		Usage: "content-addressed backup node",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "home",
				Usage: "node state directory",
				Value: defaultHome(),
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			addCommand(),
			ticketCommand(),
			backupCommand(),
			idCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultHome() string {
	h, _ := os.UserHomeDir()
	return filepath.Join(h, ".homevault")
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the node and serve the control and blob protocols",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen addr (host:port), overrides config",
			},
		},
		Action: func(c *cli.Context) error {
			home := c.String("home")
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			if addr := c.String("addr"); addr != "" {
				cfg.Addr = addr
			}
			log := logging.New(cfg.LogLevel)
			defer log.Sync()

			_, priv, err := identity.LoadOrCreateKeypair(home)
			if err != nil {
				return fmt.Errorf("load node key: %w", err)
			}

			store, err := blob.NewStore(cfg.StorePath)
			if err != nil {
				return fmt.Errorf("open store at %s: %w", cfg.StorePath, err)
			}
			book, err := peerbook.Load(filepath.Join(home, "peers.jsonl"))
			if err != nil {
				return fmt.Errorf("load peer book: %w", err)
			}
			for _, p := range cfg.Peers {
				id, err := identity.Parse(p.ID)
				if err != nil {
					log.Warn("dropping malformed peer entry", zap.String("id", p.ID))
					continue
				}
				book.Seed(id, p.Addrs)
			}

			allow := identity.ParseAllowList(cfg.AllowPeerIDs)
			if allow.Len() == 0 {
				log.Warn("allow-list is empty; every control connection will be rejected")
			}

			m := metrics.New()
			var endpoint *network.Endpoint
			dial := func(ctx context.Context, addr string, expect *identity.PeerID) (blob.FetchStream, error) {
				return endpoint.DialBlob(ctx, addr, expect)
			}
			downloader := blob.NewDownloader(store, book, dial, log)
			handler := control.NewHandler(allow, downloader, m, log)
			blobServer := blob.NewServer(store, m, log)
			endpoint, err = network.NewEndpoint(priv, handler, blobServer, log)
			if err != nil {
				return err
			}
			if err := endpoint.Listen(cfg.Addr); err != nil {
				return fmt.Errorf("bind %s: %w", cfg.Addr, err)
			}
			log.Info("node started",
				zap.String("node_id", endpoint.ID().String()),
				zap.Int("allowed_peers", allow.Len()))

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			errCh := make(chan error, 1)
			go func() { errCh <- endpoint.Serve(ctx) }()
			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil && ctx.Err() == nil {
					return err
				}
			}

			if err := m.WriteSnapshot(cfg.MetricsSnapshotPath); err != nil {
				log.Warn("metrics snapshot failed", zap.Error(err))
			}
			return endpoint.Close()
		},
	}
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Import a file into the local store and print its ticket",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "dialable address to embed in the ticket",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one file argument")
			}
			home := c.String("home")
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			pub, _, err := identity.LoadOrCreateKeypair(home)
			if err != nil {
				return err
			}
			self, err := identity.FromPublicKey(pub)
			if err != nil {
				return err
			}
			store, err := blob.NewStore(cfg.StorePath)
			if err != nil {
				return err
			}
			f, err := os.Open(c.Args().First())
			if err != nil {
				return err
			}
			defer f.Close()
			hash, size, err := store.Put(f)
			if err != nil {
				return err
			}
			ticket := blob.Ticket{Hash: hash, Node: &self}
			if addr := c.String("addr"); addr != "" {
				ticket.Addrs = []string{addr}
			}
			fmt.Printf("hash:   %s\n", hash)
			fmt.Printf("size:   %d\n", size)
			fmt.Printf("ticket: %s\n", ticket)
			return nil
		},
	}
}

func ticketCommand() *cli.Command {
	return &cli.Command{
		Name:      "ticket",
		Usage:     "Print a ticket for an already-stored hash",
		ArgsUsage: "<hash>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "dialable address to embed in the ticket",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one hash argument")
			}
			home := c.String("home")
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			hash, err := blob.ParseHash(c.Args().First())
			if err != nil {
				return err
			}
			store, err := blob.NewStore(cfg.StorePath)
			if err != nil {
				return err
			}
			if !store.Has(hash) {
				return fmt.Errorf("hash %s is not in the local store", hash)
			}
			pub, _, err := identity.LoadOrCreateKeypair(home)
			if err != nil {
				return err
			}
			self, err := identity.FromPublicKey(pub)
			if err != nil {
				return err
			}
			ticket := blob.Ticket{Hash: hash, Node: &self}
			if addr := c.String("addr"); addr != "" {
				ticket.Addrs = []string{addr}
			}
			fmt.Println(ticket)
			return nil
		},
	}
}

func backupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Ask a remote node to pull the given tickets",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "addr",
				Usage:    "remote node address (host:port)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "peer",
				Usage:    "remote node peer id (hex)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "device-tag",
				Usage: "free-form device name for the remote's logs",
				Value: "cli",
			},
			&cli.StringSliceFlag{
				Name:  "ticket",
				Usage: "ticket to back up (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "overall exchange timeout",
				Value: 5 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			home := c.String("home")
			remote, err := identity.Parse(c.String("peer"))
			if err != nil {
				return err
			}
			_, priv, err := identity.LoadOrCreateKeypair(home)
			if err != nil {
				return err
			}
			log := logging.New("error")
			defer log.Sync()
			endpoint, err := network.NewEndpoint(priv, nil, nil, log)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()
			conn, err := endpoint.DialControl(ctx, c.String("addr"), remote)
			if err != nil {
				return fmt.Errorf("dial %s: %w", c.String("addr"), err)
			}
			defer conn.Close()
			stream, err := conn.OpenStream(ctx)
			if err != nil {
				return err
			}
			ack, err := control.Call(stream, control.BeginBackupRequest{
				DeviceTag: c.String("device-tag"),
				Tickets:   c.StringSlice("ticket"),
			})
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(ack, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if !ack.OK {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func idCommand() *cli.Command {
	return &cli.Command{
		Name:  "id",
		Usage: "Print this node's peer id",
		Action: func(c *cli.Context) error {
			pub, _, err := identity.LoadOrCreateKeypair(c.String("home"))
			if err != nil {
				return err
			}
			id, err := identity.FromPublicKey(pub)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
}
