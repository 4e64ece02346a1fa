/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Command mhddemo is a small example program wiring up mhd.Daemon from
// flags, the way nabbar-golib's CLI tools build a cobra root command
// around a service's option struct. It is intentionally outside the
// mhd module's core surface (spec.md §1): a library embedder is never
// required to use cobra, or even a CLI, to drive a Daemon.
package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/badu/mhd"
	"github.com/badu/mhd/mlog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr       string
		certFile   string
		keyFile    string
		workers    int
		idle       time.Duration
		maxConns   int
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "mhddemo",
		Short: "Run an mhd daemon serving a trivial demo handler",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := mhd.Options{
				Addr:                addr,
				Mode:                mhd.WorkerThreads,
				WorkerCount:         workers,
				IdleTimeout:         idle,
				MaxConnections:      maxConns,
				MaxConnectionsPerIP: 64,
				Handler:             demoHandler,
				Logger:              mlog.New("mhddemo", hclog.LevelFromString(logLevel)),
				TerminationCallback: logTermination,
			}
			if certFile != "" && keyFile != "" {
				cert, err := tls.LoadX509KeyPair(certFile, keyFile)
				if err != nil {
					return fmt.Errorf("loading tls certificate: %w", err)
				}
				opts.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
			}

			d := mhd.NewDaemon(opts)
			if code := d.Start(); code != mhd.Ok {
				return fmt.Errorf("starting daemon: %s", code)
			}
			fmt.Printf("listening on %s\n", d.Info().BoundAddr)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig

			fmt.Println("shutting down")
			d.Stop(5 * time.Second)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", ":8080", "address to listen on")
	flags.StringVar(&certFile, "tls-cert", "", "TLS certificate file (enables TLS with --tls-key)")
	flags.StringVar(&keyFile, "tls-key", "", "TLS private key file")
	flags.IntVar(&workers, "workers", 4, "WorkerThreads pool size")
	flags.DurationVar(&idle, "idle-timeout", 60*time.Second, "idle connection timeout")
	flags.IntVar(&maxConns, "max-connections", 1024, "global connection limit (0 = unlimited)")
	flags.StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	return cmd
}

// demoHandler answers GET /, answers POST /upload via ParsePost with
// the name of the first decoded form field, and 404s everything else — just
// enough surface to exercise the library's main request/response and
// upload paths from a running process.
func demoHandler(rc *mhd.RequestContext) mhd.Action {
	switch {
	case rc.Method == "GET" && rc.Path == "/":
		resp := mhd.NewResponse(200).
			WithBuffer([]byte("mhd demo daemon\n")).
			SetHeader("Content-Type", "text/plain; charset=utf-8")
		return mhd.Respond(resp)
	case rc.Method == "POST" && rc.Path == "/upload":
		return mhd.ParsePost(&dumpUploadHandler{rc: rc})
	default:
		resp := mhd.NewResponse(404).WithBuffer([]byte("not found\n"))
		return mhd.Respond(resp)
	}
}

// dumpUploadHandler demonstrates the §4.6 incremental upload path
// without buffering the raw request body: it responds as soon as the
// first field key arrives rather than accumulating the whole body,
// the same early-exit pattern a handler would use to reject an
// oversized upload before reading the rest of it.
type dumpUploadHandler struct {
	rc *mhd.RequestContext
}

func (h *dumpUploadHandler) OnField(f mhd.UploadField) mhd.UploadAction {
	body := fmt.Sprintf("received field %q\n", f.Key)
	resp := mhd.NewResponse(200).
		WithBuffer([]byte(body)).
		SetHeader("Content-Type", "text/plain; charset=utf-8")
	return mhd.UploadRespondAction(resp)
}

func logTermination(rc *mhd.RequestContext, reason mhd.TerminationReason) {
	_ = rc
	_ = reason
}
