package main

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"workescrow/gateway/config"
)

var errPartialTLS = errors.New("security.tlsCertFile and security.tlsKeyFile must be set together")

// tlsFiles are the gateway's PEM paths after resolution against the config
// directory.
type tlsFiles struct {
	cert, key, clientCA string
}

func resolveTLSFiles(baseDir string, sec config.SecurityConfig) tlsFiles {
	return tlsFiles{
		cert:     resolvePath(baseDir, sec.TLSCertFile),
		key:      resolvePath(baseDir, sec.TLSKeyFile),
		clientCA: resolvePath(baseDir, sec.TLSClientCAFile),
	}
}

func (f tlsFiles) empty() bool { return f == tlsFiles{} }

// buildTLSConfig returns nil when no TLS material is configured. A client CA
// turns on mutual TLS.
func buildTLSConfig(baseDir string, sec config.SecurityConfig) (*tls.Config, error) {
	files := resolveTLSFiles(baseDir, sec)
	if files.empty() {
		return nil, nil
	}
	if files.cert == "" || files.key == "" {
		return nil, errPartialTLS
	}
	pair, err := tls.LoadX509KeyPair(files.cert, files.key)
	if err != nil {
		return nil, fmt.Errorf("load gateway certificate: %w", err)
	}
	out := &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{pair}}
	if files.clientCA == "" {
		return out, nil
	}
	pem, err := os.ReadFile(files.clientCA)
	if err != nil {
		return nil, fmt.Errorf("read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("client CA %s holds no certificates", files.clientCA)
	}
	out.ClientCAs = pool
	out.ClientAuth = tls.RequireAndVerifyClientCert
	return out, nil
}

// resolvePath anchors relative paths at baseDir.
func resolvePath(baseDir, path string) string {
	path = strings.TrimSpace(path)
	switch {
	case path == "":
		return ""
	case baseDir == "", filepath.IsAbs(path):
		return path
	default:
		return filepath.Join(baseDir, path)
	}
}

// isLoopbackAddress reports whether a listen address only accepts local
// connections. Wildcard hosts are not loopback.
func isLoopbackAddress(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip, err := netip.ParseAddr(host)
	return err == nil && ip.IsLoopback()
}
