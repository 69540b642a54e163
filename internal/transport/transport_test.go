package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/framegate/internal/testutil/testlog"
	"github.com/danmuck/framegate/internal/testutil/tlstest"
)

var kinds = []Kind{KindQUIC, KindTLSYamux}

func testConfig(kind Kind) Config {
	cfg := DefaultConfig()
	cfg.Kind = kind
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.ChannelTimeout = 2 * time.Second
	cfg.HeaderTimeout = 2 * time.Second
	cfg.BodyTimeout = 2 * time.Second
	return cfg
}

// startListener binds loopback and returns a client config that trusts the
// listener's self-signed certificate.
func startListener(t *testing.T, kind Kind) (Listener, Config) {
	t.Helper()
	cfg := testConfig(kind)
	id, err := NewSelfSignedIdentity(DefaultHosts())
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	ln, err := Listen(cfg, id, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen %s: %v", kind, err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	if err := id.WriteCertPEM(caFile); err != nil {
		t.Fatalf("write ca: %v", err)
	}
	clientCfg := cfg
	clientCfg.TLS.CAFile = caFile
	return ln, clientCfg
}

type acceptResult struct {
	conn Conn
	err  error
}

func acceptAsync(ctx context.Context, ln Listener) <-chan acceptResult {
	out := make(chan acceptResult, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		out <- acceptResult{conn: conn, err: err}
	}()
	return out
}

func TestChannelRoundTrip(t *testing.T) {
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			testlog.Start(t)
			ln, clientCfg := startListener(t, kind)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			accepted := acceptAsync(ctx, ln)
			client, err := Dial(ctx, clientCfg, ln.Addr().String())
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer client.Close()

			res := <-accepted
			if res.err != nil {
				t.Fatalf("accept: %v", res.err)
			}
			server := res.conn
			defer server.Close()
			if server.Protocol() != DefaultALPN || client.Protocol() != DefaultALPN {
				t.Fatalf("unexpected protocols server=%q client=%q", server.Protocol(), client.Protocol())
			}
			if server.RemoteAddr() == nil {
				t.Fatalf("missing remote addr")
			}

			out, err := client.OpenChannel(ctx)
			if err != nil {
				t.Fatalf("open channel: %v", err)
			}
			if _, err := out.Write([]byte("ping")); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := out.CloseWrite(); err != nil {
				t.Fatalf("close write: %v", err)
			}

			in, err := server.AcceptChannel(ctx)
			if err != nil {
				t.Fatalf("accept channel: %v", err)
			}
			_ = in.SetReadDeadline(time.Now().Add(2 * time.Second))
			got, err := io.ReadAll(in)
			if err != nil {
				t.Fatalf("read all: %v", err)
			}
			if string(got) != "ping" {
				t.Fatalf("unexpected payload %q", got)
			}
			if err := in.Close(); err != nil {
				t.Fatalf("close channel: %v", err)
			}

			_ = out.SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, err := io.Copy(io.Discard, out); err != nil {
				t.Fatalf("expected clean eof after peer close, got %v", err)
			}
		})
	}
}

func TestAcceptChannelTimeout(t *testing.T) {
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			testlog.Start(t)
			ln, clientCfg := startListener(t, kind)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			accepted := acceptAsync(ctx, ln)
			client, err := Dial(ctx, clientCfg, ln.Addr().String())
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer client.Close()
			res := <-accepted
			if res.err != nil {
				t.Fatalf("accept: %v", res.err)
			}
			defer res.conn.Close()

			waitCtx, waitCancel := context.WithTimeout(ctx, 100*time.Millisecond)
			defer waitCancel()
			_, err = res.conn.AcceptChannel(waitCtx)
			if !errors.Is(err, ErrTimeout) {
				t.Fatalf("expected ErrTimeout, got %v", err)
			}
		})
	}
}

func TestAcceptChannelAfterPeerClose(t *testing.T) {
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			testlog.Start(t)
			ln, clientCfg := startListener(t, kind)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			accepted := acceptAsync(ctx, ln)
			client, err := Dial(ctx, clientCfg, ln.Addr().String())
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			res := <-accepted
			if res.err != nil {
				t.Fatalf("accept: %v", res.err)
			}
			defer res.conn.Close()

			_ = client.Close()
			_, err = res.conn.AcceptChannel(ctx)
			if !errors.Is(err, ErrChannel) {
				t.Fatalf("expected ErrChannel, got %v", err)
			}
		})
	}
}

func TestAcceptTimeoutWithoutPeer(t *testing.T) {
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			testlog.Start(t)
			ln, _ := startListener(t, kind)
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_, err := ln.Accept(ctx)
			if !errors.Is(err, ErrTimeout) {
				t.Fatalf("expected ErrTimeout, got %v", err)
			}
		})
	}
}

func TestAcceptAfterCloseReportsClosed(t *testing.T) {
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			testlog.Start(t)
			ln, _ := startListener(t, kind)
			_ = ln.Close()
			_, err := ln.Accept(context.Background())
			if !errors.Is(err, net.ErrClosed) {
				t.Fatalf("expected net.ErrClosed, got %v", err)
			}
		})
	}
}

func TestDialALPNMismatchIsHandshakeError(t *testing.T) {
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			testlog.Start(t)
			ln, clientCfg := startListener(t, kind)
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			accepted := acceptAsync(ctx, ln)
			clientCfg.ALPN = "not-demo"
			_, err := Dial(ctx, clientCfg, ln.Addr().String())
			if !errors.Is(err, ErrHandshake) {
				t.Fatalf("expected ErrHandshake, got %v", err)
			}
			if kind == KindTLSYamux {
				if res := <-accepted; !errors.Is(res.err, ErrHandshake) {
					t.Fatalf("expected server ErrHandshake, got %v", res.err)
				}
			}
		})
	}
}

func TestDialUntrustedCertificateFails(t *testing.T) {
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			testlog.Start(t)
			ln, clientCfg := startListener(t, kind)
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			go func() { _, _ = ln.Accept(ctx) }()

			other, err := NewSelfSignedIdentity(DefaultHosts())
			if err != nil {
				t.Fatalf("identity: %v", err)
			}
			clientCfg.TLS.CAFile = filepath.Join(t.TempDir(), "other.pem")
			if err := other.WriteCertPEM(clientCfg.TLS.CAFile); err != nil {
				t.Fatalf("write ca: %v", err)
			}
			if _, err := Dial(ctx, clientCfg, ln.Addr().String()); !errors.Is(err, ErrHandshake) {
				t.Fatalf("expected ErrHandshake, got %v", err)
			}
		})
	}
}

func TestListenBindError(t *testing.T) {
	testlog.Start(t)
	id, err := NewSelfSignedIdentity(DefaultHosts())
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	ln, err := Listen(testConfig(KindTLSYamux), id, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	if _, err := Listen(testConfig(KindTLSYamux), id, ln.Addr().String()); !errors.Is(err, ErrBind) {
		t.Fatalf("expected ErrBind, got %v", err)
	}
}

func TestIsTimeout(t *testing.T) {
	testlog.Start(t)
	if !IsTimeout(context.DeadlineExceeded) {
		t.Fatalf("deadline exceeded should be a timeout")
	}
	if IsTimeout(io.EOF) || IsTimeout(nil) {
		t.Fatalf("eof/nil should not be timeouts")
	}
}

func TestDialWithIssuedKeyPair(t *testing.T) {
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			testlog.Start(t)
			dir := t.TempDir()
			ca := tlstest.NewAuthority(t, dir)
			certFile, keyFile := ca.IssueServerCert(t, dir, "127.0.0.1", "localhost")

			cfg := testConfig(kind)
			cfg.TLS.CertFile = certFile
			cfg.TLS.KeyFile = keyFile
			if err := cfg.ValidateServerTransport(); err != nil {
				t.Fatalf("validate: %v", err)
			}
			id, err := ServerIdentity(cfg.TLS)
			if err != nil {
				t.Fatalf("server identity: %v", err)
			}
			ln, err := Listen(cfg, id, "127.0.0.1:0")
			if err != nil {
				t.Fatalf("listen: %v", err)
			}
			defer ln.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			accepted := acceptAsync(ctx, ln)
			clientCfg := testConfig(kind)
			clientCfg.TLS.CAFile = ca.CAFile()
			client, err := Dial(ctx, clientCfg, ln.Addr().String())
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer client.Close()
			res := <-accepted
			if res.err != nil {
				t.Fatalf("accept: %v", res.err)
			}
			_ = res.conn.Close()
		})
	}
}
