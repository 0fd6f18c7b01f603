// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// Command camomile runs a standalone camomile image proxy server.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/camomile-go/camomile"
)

var (
	addr       = flag.String("addr", "localhost:1080", "TCP address to listen on")
	secret     = flag.String("secret", "", "shared HMAC secret used to verify signed URLs (required)")
	maxSize    = flag.Int64("maxSize", 100<<20, "maximum response body size, in bytes")
	serverName = flag.String("serverName", "camomile", "value of the Via header on successful responses")
	timeout    = flag.Duration("timeout", 30*time.Second, "overall per-request deadline; 0 disables it")
)

func main() {
	flag.Parse()

	srv, err := camomile.New(camomile.Config{
		Secret:     []byte(*secret),
		MaxSize:    *maxSize,
		ServerName: *serverName,
		Timeout:    *timeout,
	})
	if err != nil {
		log.Fatal(err)
	}

	httpServer, err := srv.Listen(*addr)
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("camomile listening on %s", httpServer.Addr)
	select {}
}
