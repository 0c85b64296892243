package core

import (
	"fmt"

	"github.com/gosimple/slug"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/bcrypt"
)

// CredentialHasher turns a plaintext secret into its stored form.
type CredentialHasher interface {
	Hash(plain string) (string, error)
}

// SlugGenerator derives a URL-safe lowercase identifier from text.
type SlugGenerator interface {
	Slug(text string) string
}

// SecretGenerator produces the placeholder secret of a new attendee account.
type SecretGenerator interface {
	Generate() (string, error)
}

// BcryptHasher hashes secrets with bcrypt.
type BcryptHasher struct {
	Cost int // bcrypt.DefaultCost when zero
}

func (h BcryptHasher) Hash(plain string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}
	return string(hash), nil
}

// secretAlphabet avoids characters that are ambiguous when read aloud.
const secretAlphabet = "abcdefghjkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultSecretLength keeps secrets well under bcrypt's 72 byte input limit.
const DefaultSecretLength = 32

// NanoidSecrets generates random secrets with go-nanoid.
type NanoidSecrets struct {
	Length int
}

func (g NanoidSecrets) Generate() (string, error) {
	n := g.Length
	if n <= 0 {
		n = DefaultSecretLength
	}
	return gonanoid.Generate(secretAlphabet, n)
}

// Slugger builds slugs with gosimple/slug.
type Slugger struct{}

func (Slugger) Slug(text string) string {
	return slug.Make(text)
}
