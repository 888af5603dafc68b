// Package lineage validates and promotes staged certificate lineages.
package lineage

import (
	"bytes"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"

	"github.com/haxwithaxe/certdeploy-go/internal/certdeploy"
)

// Validate checks every *.pem file directly under dir against the
// private-key or certificate-chain PEM grammar. It performs no
// cryptographic validation — only the structural check needed to catch a
// partial or corrupted transfer before it gets promoted.
func Validate(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return certdeploy.InvalidKey(dir)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pem") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := validateFile(path); err != nil {
			return err
		}
	}
	return nil
}

func validateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return certdeploy.InvalidKey(path)
	}
	if err := validatePEM(data); err != nil {
		return certdeploy.InvalidKey(path)
	}
	return nil
}

// validatePEM requires the whole buffer to decode as either exactly one
// "* PRIVATE KEY" block, or one-or-more concatenated "CERTIFICATE" blocks,
// with nothing left over once the last recognized block is consumed.
func validatePEM(data []byte) error {
	rest := data
	var blockType string
	count := 0
	for {
		if t := bytes.TrimSpace(rest); len(t) > 0 && !bytes.HasPrefix(t, []byte("-----BEGIN ")) {
			return errInvalidPEM
		}
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		count++
		if blockType == "" {
			blockType = classify(block.Type)
			if blockType == "" {
				return errInvalidPEM
			}
		} else if classify(block.Type) != blockType {
			return errInvalidPEM
		}
		if blockType == "private key" && count > 1 {
			return errInvalidPEM
		}
	}
	if count == 0 {
		return errInvalidPEM
	}
	if len(bytes.TrimSpace(rest)) != 0 {
		return errInvalidPEM
	}
	return nil
}

func classify(pemType string) string {
	switch {
	case strings.HasSuffix(pemType, "PRIVATE KEY"):
		return "private key"
	case pemType == "CERTIFICATE":
		return "certificate"
	default:
		return ""
	}
}

var errInvalidPEM = &pemError{}

type pemError struct{}

func (*pemError) Error() string { return "structurally invalid PEM content" }
