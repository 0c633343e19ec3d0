// Package auth supplies the opaque actor identity the census core attributes
// writes to. Credential verification is pluggable; the core only ever sees
// {fullName, role}.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wardsync/wardsync/internal/platform/store"
)

// ErrInvalidCredentials reports a failed username/password check.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrMasterPassword reports a registration attempt with the wrong master
// password.
var ErrMasterPassword = errors.New("master password mismatch")

// Identity is the opaque actor the core attributes admissions, notes, and
// discharges to.
type Identity struct {
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

// Verifier checks credentials and resolves them to an identity. Implemented
// here by StoreVerifier; deployments with a real identity provider plug in
// their own.
type Verifier interface {
	Verify(ctx context.Context, username, password string) (*Identity, error)
}

// StoreVerifier checks credentials against the users collection of the
// shared store with a one-shot list, the scheme the census historically
// used. Passwords are stored in the clear there; that is why this lives
// behind Verifier rather than in the core.
type StoreVerifier struct {
	store      store.Store
	collection string
}

func NewStoreVerifier(st store.Store, collection string) *StoreVerifier {
	return &StoreVerifier{store: st, collection: collection}
}

func (v *StoreVerifier) Verify(ctx context.Context, username, password string) (*Identity, error) {
	snap, err := v.store.ListAll(ctx, v.collection)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, doc := range snap {
		u, _ := doc.Fields["username"].(string)
		p, _ := doc.Fields["password"].(string)
		if u == username && p == password {
			name, _ := doc.Fields["fullName"].(string)
			role, _ := doc.Fields["role"].(string)
			return &Identity{FullName: name, Role: role}, nil
		}
	}
	return nil, ErrInvalidCredentials
}

// Register creates a user document. The master password gates who may
// self-register, mirroring the original census behavior.
func (v *StoreVerifier) Register(ctx context.Context, username, password, fullName, masterPassword, wantMaster string) error {
	if wantMaster == "" || masterPassword != wantMaster {
		return ErrMasterPassword
	}
	if strings.TrimSpace(username) == "" || strings.TrimSpace(password) == "" || strings.TrimSpace(fullName) == "" {
		return fmt.Errorf("username, password, and full name are required: %w", ErrInvalidCredentials)
	}
	_, err := v.store.Add(ctx, v.collection, store.Fields{
		"username":  username,
		"password":  password,
		"fullName":  fullName,
		"role":      "doctor",
		"createdAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}
