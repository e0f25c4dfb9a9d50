// Package artifact persists backtrace artifacts between the capture phase and
// the response phase of a reported fault.
//
// An artifact is a plain-text backtrace stored under a collision-resistant
// name of the form <folder>/<40 hex chars>.btl. Stores report collisions as
// errors.ErrAlreadyExists and write failures as errors.ErrUploadFailed so the
// capture pipeline can decide between regenerating the name and retrying.
package artifact

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	// Extension is appended to every generated name
	Extension = ".btl"

	// NameBytes is the amount of randomness in a name (hex-encoded to 40 chars)
	NameBytes = 20
)

// Store persists artifact content by key
type Store interface {
	// Write stores content under key. It fails with ErrAlreadyExists when the
	// key is taken and ErrUploadFailed on any other write failure.
	Write(ctx context.Context, key, content string) error

	// Read returns the content of key; found is false when it does not exist.
	Read(ctx context.Context, key string) (content string, found bool, err error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Sweeper is implemented by stores that can drop artifacts older than a cutoff
type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Time) (int, error)
}

// Artifact is a backtrace held in memory until it is persisted
type Artifact struct {
	Name    string
	Content string

	folder string
}

// New creates an artifact with a freshly generated name in folder
func New(folder, content string) (*Artifact, error) {
	name, err := GenerateName(folder)
	if err != nil {
		return nil, err
	}
	return &Artifact{Name: name, Content: content, folder: folder}, nil
}

// Regenerate replaces the artifact name. Content is untouched.
func (a *Artifact) Regenerate() error {
	name, err := GenerateName(a.folder)
	if err != nil {
		return err
	}
	a.Name = name
	return nil
}

// Folder returns the namespace the artifact name was generated in
func (a *Artifact) Folder() string {
	return a.folder
}

// GenerateName returns folder + "/" + 40 random hex characters + ".btl"
func GenerateName(folder string) (string, error) {
	b := make([]byte, NameBytes)
	if _, err := crand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate artifact name: %w", err)
	}
	return strings.TrimSuffix(folder, "/") + "/" + hex.EncodeToString(b) + Extension, nil
}

// IsName reports whether key has the shape produced by GenerateName
func IsName(key string) bool {
	i := strings.LastIndexByte(key, '/')
	base := key[i+1:]
	if !strings.HasSuffix(base, Extension) {
		return false
	}
	id := strings.TrimSuffix(base, Extension)
	if len(id) != NameBytes*2 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil && strings.ToLower(id) == id
}
