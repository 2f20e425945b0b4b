package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// ALPN is the application protocol negotiated on QUIC connections.
const ALPN = "deskstream/1"

// TLSPaths holds the locations of the generated CA and host certificate.
type TLSPaths struct {
	CACertPath string
	CertPath   string
	KeyPath    string
}

// LoadOrGenerateTLS loads the host's self-signed TLS material from dataDir,
// generating it on first use. The returned config is for the listening side
// of the QUIC transport.
func LoadOrGenerateTLS(dataDir string) (*tls.Config, *TLSPaths, error) {
	paths := &TLSPaths{
		CACertPath: filepath.Join(dataDir, "ca.crt"),
		CertPath:   filepath.Join(dataDir, "host.crt"),
		KeyPath:    filepath.Join(dataDir, "host.key"),
	}

	if !fileExists(paths.CACertPath) || !fileExists(paths.CertPath) || !fileExists(paths.KeyPath) {
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return nil, nil, fmt.Errorf("create TLS dir: %w", err)
		}
		if err := generateCerts(paths); err != nil {
			return nil, nil, fmt.Errorf("generate TLS certs: %w", err)
		}
	}

	cert, err := tls.LoadX509KeyPair(paths.CertPath, paths.KeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load TLS keypair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}, paths, nil
}

// ClientTLS returns the dialling side's config. With a CA file the host
// certificate is verified against it; without one verification is skipped
// and confidentiality rests on the session key exchange alone.
func ClientTLS(caCertPath string) (*tls.Config, error) {
	cfg := &tls.Config{
		NextProtos: []string{ALPN},
		MinVersion: tls.VersionTLS13,
	}
	if caCertPath == "" {
		cfg.InsecureSkipVerify = true //nolint:gosec
		return cfg, nil
	}
	pemData, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("load CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, errors.New("load CA cert: no certificates found")
	}
	cfg.RootCAs = pool
	return cfg, nil
}

func generateCerts(paths *TLSPaths) error {
	caKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return err
	}

	caTemplate := &x509.Certificate{
		SerialNumber: newSerial(),
		Subject: pkix.Name{
			Organization: []string{"deskstream"},
			CommonName:   "deskstream host CA",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}
	caCertDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		return err
	}
	caCert, err := x509.ParseCertificate(caCertDER)
	if err != nil {
		return err
	}

	hostKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return err
	}
	dnsNames, ipAddrs := localNames()

	hostTemplate := &x509.Certificate{
		SerialNumber: newSerial(),
		Subject: pkix.Name{
			Organization: []string{"deskstream"},
			CommonName:   "deskstream host",
		},
		DNSNames:    dnsNames,
		IPAddresses: ipAddrs,
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(2 * 365 * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	hostCertDER, err := x509.CreateCertificate(rand.Reader, hostTemplate, caCert, &hostKey.PublicKey, caKey)
	if err != nil {
		return err
	}

	if err := writePEM(paths.CACertPath, "CERTIFICATE", caCertDER); err != nil {
		return err
	}
	if err := writePEM(paths.CertPath, "CERTIFICATE", hostCertDER); err != nil {
		return err
	}
	keyBytes, err := x509.MarshalECPrivateKey(hostKey)
	if err != nil {
		return err
	}
	return writePEM(paths.KeyPath, "EC PRIVATE KEY", keyBytes)
}

// localNames collects SANs: localhost, the hostname and every non-loopback
// interface address.
func localNames() ([]string, []net.IP) {
	dnsNames := []string{"localhost"}
	if hostname, err := os.Hostname(); err == nil {
		dnsNames = append(dnsNames, hostname)
	}
	ipAddrs := []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}

	ifaces, err := net.Interfaces()
	if err != nil {
		return dnsNames, ipAddrs
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipn, ok := addr.(*net.IPNet); ok && !ipn.IP.IsLoopback() {
				ipAddrs = append(ipAddrs, ipn.IP)
			}
		}
	}
	return dnsNames, ipAddrs
}

func writePEM(path, blockType string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: data})
}

func newSerial() *big.Int {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, _ := rand.Int(rand.Reader, limit)
	return serial
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
