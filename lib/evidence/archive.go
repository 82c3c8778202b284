// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"github.com/vvatta/mcp-automatic-review/lib/codec"
)

const (
	magic      = "MCPEVID1"
	headerSize = len(magic) + 1 + 8

	// maxBodySize bounds decompression of an archive body: 1 GB.
	maxBodySize = 1 << 30

	ageHeader = "age-encryption.org/v1"
)

// ErrNoIdentity is returned when reading an encrypted archive without
// an identity.
var ErrNoIdentity = errors.New("archive is encrypted and no identity was given")

// Options controls how an archive is written.
type Options struct {
	Compression Compression

	// Recipients are age X25519 public keys (age1...). Empty writes a
	// plaintext archive.
	Recipients []string
}

// Marshal encodes bundle as an archive and returns it with the body
// digest. The bundle's report is archived with an empty
// EvidenceDigest.
func Marshal(bundle Bundle, options Options) ([]byte, Digest, error) {
	bundle.Report.EvidenceDigest = ""
	body, err := codec.Marshal(bundle)
	if err != nil {
		return nil, Digest{}, fmt.Errorf("encoding evidence bundle: %w", err)
	}
	digest := digestOf(body)

	compressed, tag, err := compress(body, options.Compression)
	if err != nil {
		return nil, Digest{}, err
	}

	plaintext := make([]byte, headerSize, headerSize+len(compressed))
	copy(plaintext, magic)
	plaintext[len(magic)] = byte(tag)
	binary.BigEndian.PutUint64(plaintext[len(magic)+1:], uint64(len(body)))
	plaintext = append(plaintext, compressed...)

	if len(options.Recipients) == 0 {
		return plaintext, digest, nil
	}
	encrypted, err := encrypt(plaintext, options.Recipients)
	if err != nil {
		return nil, Digest{}, err
	}
	return encrypted, digest, nil
}

// Unmarshal decodes an archive, decrypting with identities (age
// AGE-SECRET-KEY-1... strings) when it is encrypted. The returned
// digest is recomputed from the body.
func Unmarshal(data []byte, identities []string) (*Bundle, Digest, error) {
	if bytes.HasPrefix(data, []byte(ageHeader)) {
		if len(identities) == 0 {
			return nil, Digest{}, ErrNoIdentity
		}
		plaintext, err := decrypt(data, identities)
		if err != nil {
			return nil, Digest{}, err
		}
		data = plaintext
	}

	if len(data) < headerSize || string(data[:len(magic)]) != magic {
		return nil, Digest{}, fmt.Errorf("not an evidence archive")
	}
	tag := Compression(data[len(magic)])
	size := binary.BigEndian.Uint64(data[len(magic)+1 : headerSize])

	body, err := decompress(data[headerSize:], tag, size)
	if err != nil {
		return nil, Digest{}, err
	}

	var bundle Bundle
	if err := codec.Unmarshal(body, &bundle); err != nil {
		return nil, Digest{}, fmt.Errorf("decoding evidence bundle: %w", err)
	}
	return &bundle, digestOf(body), nil
}

// WriteFile writes an archive to path atomically (temp file + rename).
func WriteFile(path string, bundle Bundle, options Options) (Digest, error) {
	data, digest, err := Marshal(bundle, options)
	if err != nil {
		return Digest{}, err
	}

	directory := filepath.Dir(path)
	temporary, err := os.CreateTemp(directory, ".evidence-*")
	if err != nil {
		return Digest{}, fmt.Errorf("creating evidence file: %w", err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return Digest{}, fmt.Errorf("writing evidence file: %w", err)
	}
	if err := temporary.Close(); err != nil {
		return Digest{}, fmt.Errorf("closing evidence file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		return Digest{}, fmt.Errorf("installing evidence file: %w", err)
	}
	return digest, nil
}

// ReadFile reads an archive from path.
func ReadFile(path string, identities []string) (*Bundle, Digest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Digest{}, fmt.Errorf("reading evidence file: %w", err)
	}
	return Unmarshal(data, identities)
}

func encrypt(plaintext []byte, recipientKeys []string) ([]byte, error) {
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return ciphertext.Bytes(), nil
}

func decrypt(ciphertext []byte, identityKeys []string) ([]byte, error) {
	identities := make([]age.Identity, 0, len(identityKeys))
	for _, key := range identityKeys {
		identity, err := age.ParseX25519Identity(key)
		if err != nil {
			return nil, fmt.Errorf("parsing identity: %w", err)
		}
		identities = append(identities, identity)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting evidence archive: %w", err)
	}
	plaintext, err := io.ReadAll(io.LimitReader(reader, int64(maxBodySize+headerSize)))
	if err != nil {
		return nil, fmt.Errorf("reading decrypted evidence archive: %w", err)
	}
	return plaintext, nil
}
