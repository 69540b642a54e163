package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/framegate/internal/logging"
	"github.com/danmuck/framegate/internal/protocol"
	"github.com/danmuck/framegate/internal/sender"
	"github.com/danmuck/framegate/internal/transport"
	"github.com/logrusorgru/aurora"
)

func main() {
	def := sender.DefaultClientConfig()
	addr := flag.String("addr", def.Address, "receiver address")
	kind := flag.String("transport", string(def.Transport.Kind), "transport kind: quic or tls-yamux")
	alpn := flag.String("alpn", def.Transport.ALPN, "application protocol identifier")
	caFile := flag.String("ca", "", "PEM file trusted as the receiver's certificate authority")
	insecure := flag.Bool("insecure", false, "skip receiver certificate verification")
	version := flag.Uint("version", 1, "frame version byte")
	msgType := flag.Uint("type", 1, "frame message type byte")
	message := flag.String("message", "hello", "message text")
	count := flag.Int("count", 1, "number of messages, one channel each")
	flag.Parse()

	logging.ConfigureRuntime()
	if *version > 0xFF || *msgType > 0xFF {
		fail(fmt.Errorf("version and type must fit in one byte"))
	}

	cfg := def
	cfg.Address = strings.TrimSpace(*addr)
	cfg.Transport.Kind = transport.NormalizeKind(transport.Kind(*kind))
	cfg.Transport.ALPN = strings.TrimSpace(*alpn)
	cfg.Transport.TLS.CAFile = strings.TrimSpace(*caFile)
	cfg.Transport.TLS.InsecureSkipVerify = *insecure

	client, err := sender.NewClient(cfg)
	if err != nil {
		fail(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	session, err := client.Connect(ctx)
	if err != nil {
		fail(err)
	}
	defer session.Close()
	fmt.Printf("[%s] connected to %s over %s (alpn %q)\n",
		aurora.Green("framesend"), cfg.Address, cfg.Transport.Kind, session.Protocol())

	failed := 0
	for i := 1; i <= *count; i++ {
		msg := protocol.NewMessage(uint8(*version), uint8(*msgType), *message)
		if err := session.Send(ctx, msg); err != nil {
			failed++
			fmt.Printf("[%s] message %d: %v\n", aurora.Red("failed"), i, err)
			continue
		}
		fmt.Printf("[%s] message %d: %d bytes\n", aurora.Blue("sent"), i, len(msg.Body))
	}
	if failed > 0 {
		_ = session.Close()
		fail(fmt.Errorf("%d of %d messages failed", failed, *count))
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "framesend: %v\n", err)
	os.Exit(1)
}
