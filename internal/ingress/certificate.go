/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package ingress

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
)

const (
	certStoreFn    = "mailrelayd.x509"
	certTmpStoreFn = "mailrelayd.x509.tmp"
)

// loadCertificate loads a self-signed ed25519 certificate for STARTTLS
// from statePath, generating and persisting a new one if none exists yet.
func loadCertificate(statePath string) (tls.Certificate, error) {
	pemFile := filepath.Join(statePath, certStoreFn)
	certificate, err := tls.LoadX509KeyPair(pemFile, pemFile)
	if err == nil {
		return certificate, nil
	}
	if !os.IsNotExist(err) {
		return certificate, fmt.Errorf("ingress: failed to load certificate: %w", err)
	}

	certificate, err = generateCertificate(statePath)
	if err != nil {
		return certificate, fmt.Errorf("ingress: failed to generate certificate: %w", err)
	}
	return certificate, nil
}

// generateCertificate creates a fresh ed25519 self-signed certificate and
// saves it, with its private key, in PEM form via a temp-file-then-rename
// write so a crash mid-write never leaves a half-written cert on disk.
func generateCertificate(statePath string) (tls.Certificate, error) {
	var certificate tls.Certificate

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return certificate, err
	}

	max := new(big.Int)
	max.Exp(big.NewInt(2), big.NewInt(64), nil).Sub(max, big.NewInt(1))
	sn, err := rand.Int(rand.Reader, max)
	if err != nil {
		return certificate, err
	}

	template := &x509.Certificate{
		SerialNumber: sn,
		Subject:      pkix.Name{CommonName: "mailrelayd"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, pubKey, privKey)
	if err != nil {
		return certificate, err
	}
	privKeyDER, err := x509.MarshalPKCS8PrivateKey(privKey)
	if err != nil {
		return certificate, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	privKeyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privKeyDER})

	if err := os.MkdirAll(statePath, 0700); err != nil {
		return certificate, err
	}

	tmpPath := filepath.Join(statePath, certTmpStoreFn)
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return certificate, err
	}
	if _, err := tmpFile.Write(certPEM); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return certificate, err
	}
	if _, err := tmpFile.Write(privKeyPEM); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return certificate, err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return certificate, err
	}

	certificate, err = tls.X509KeyPair(certPEM, privKeyPEM)
	if err != nil {
		os.Remove(tmpPath)
		return certificate, err
	}

	if err := os.Rename(tmpPath, filepath.Join(statePath, certStoreFn)); err != nil {
		os.Remove(tmpPath)
		return certificate, err
	}

	return certificate, nil
}
