// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// =============================================================================
// Secure Secret Storage
// =============================================================================
//
// Cloud provider API keys are held in memguard enclaves: encrypted at rest in
// process memory, mlocked so they cannot be swapped to disk, wiped on
// Destroy. On hosts without a usable mlock limit the holder falls back to a
// plain string, but only when the operator has set
// ALEUTIAN_INSECURE_MEMORY=true to acknowledge the downgrade.

const (
	// minMlockLimitKB is the minimum RLIMIT_MEMLOCK required for the
	// secure path. Keys are tiny; 64 KB leaves headroom for memguard's
	// guard pages and canaries.
	minMlockLimitKB = 64

	// insecureMemoryEnv acknowledges running without mlocked secrets.
	insecureMemoryEnv = "ALEUTIAN_INSECURE_MEMORY"
)

var (
	// secretInitOnce guards one-time memguard initialization.
	secretInitOnce sync.Once

	// mlockSufficient records whether secure storage is available.
	mlockSufficient bool

	// currentMlockLimitKB holds the detected limit for logging.
	currentMlockLimitKB int64
)

// initSecureMemory performs one-time memguard setup and the mlock limit
// check. Called automatically by NewSecret.
func initSecureMemory() {
	secretInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("Secure secret storage initialized",
				slog.Int64("mlock_limit_kb", currentMlockLimitKB),
				slog.Int("required_kb", minMlockLimitKB),
			)
		}
	})
}

// checkMlockLimit queries RLIMIT_MEMLOCK and compares it to the minimum.
//
// Outputs:
//   - bool: True if the limit is sufficient.
//   - int64: Current limit in kilobytes (-1 if unlimited or unknown).
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", slog.String("error", err.Error()))
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= minMlockLimitKB, limitKB
}

// Secret holds one sensitive value, in an enclave when the system allows it.
//
// Description:
//
//	Use With to access the plaintext: the value is decrypted into an
//	mlocked buffer for the duration of the callback and wiped afterwards.
//	The insecure fallback keeps the value as a plain string and exists
//	only behind the ALEUTIAN_INSECURE_MEMORY opt-in.
//
// Thread Safety: Safe for concurrent use after construction.
type Secret struct {
	enclave  *memguard.Enclave
	insecure string
	secure   bool
}

// NewSecret wraps a sensitive value in secure storage.
//
// Description:
//
//	On systems with a sufficient mlock limit the value is sealed into a
//	memguard enclave and the input string's backing array is out of our
//	hands (Go strings are immutable; callers should not retain it). On
//	systems without, NewSecret fails unless ALEUTIAN_INSECURE_MEMORY=true,
//	in which case a plain-memory holder is returned with a warning.
//
// Inputs:
//   - value: The secret. Must not be empty.
//
// Outputs:
//   - *Secret: The holder.
//   - error: Non-nil if value is empty or secure storage is unavailable
//     without the insecure opt-in.
func NewSecret(value string) (*Secret, error) {
	if value == "" {
		return nil, fmt.Errorf("secret value is empty")
	}

	initSecureMemory()

	if !mlockSufficient {
		if os.Getenv(insecureMemoryEnv) != "true" {
			return nil, fmt.Errorf(
				"mlock limit insufficient for secure secrets: have %d KB, need %d KB. "+
					"Raise RLIMIT_MEMLOCK or set %s=true",
				currentMlockLimitKB, minMlockLimitKB, insecureMemoryEnv,
			)
		}
		slog.Warn("SECURITY: holding secret in plain memory - mlock limit insufficient",
			slog.Int64("current_limit_kb", currentMlockLimitKB),
			slog.Int("required_kb", minMlockLimitKB),
			slog.String("env_override", insecureMemoryEnv+"=true"),
		)
		return &Secret{insecure: value, secure: false}, nil
	}

	return &Secret{
		enclave: memguard.NewEnclave([]byte(value)),
		secure:  true,
	}, nil
}

// SecretFromEnv wraps the value of an environment variable.
//
// Outputs:
//   - *Secret: The holder, or nil with an error when the variable is unset.
func SecretFromEnv(key string) (*Secret, error) {
	value := os.Getenv(key)
	if value == "" {
		return nil, fmt.Errorf("environment variable %s is not set", key)
	}
	return NewSecret(value)
}

// With decrypts the secret for the duration of fn.
//
// Description:
//
//	The callback receives the plaintext; it must not retain it past the
//	call. For the secure path the plaintext lives in an mlocked buffer
//	that is destroyed when fn returns.
//
// Thread Safety: Safe for concurrent use.
func (s *Secret) With(fn func(value string) error) error {
	if !s.secure {
		return fn(s.insecure)
	}

	buf, err := s.enclave.Open()
	if err != nil {
		return fmt.Errorf("opening secret enclave: %w", err)
	}
	defer buf.Destroy()

	return fn(buf.String())
}

// IsSecure reports whether the secret is held in mlocked, encrypted memory.
func (s *Secret) IsSecure() bool {
	return s.secure
}

// Destroy wipes the insecure copy. Enclave-backed secrets are wiped by
// PurgeSecrets or process exit; per-value destruction happens on each With.
func (s *Secret) Destroy() {
	s.insecure = ""
}

// IsSecureMemoryAvailable reports whether mlocked secret storage can be
// used on this host, and the detected limit in KB (-1 if unlimited).
func IsSecureMemoryAvailable() (bool, int64) {
	initSecureMemory()
	return mlockSufficient, currentMlockLimitKB
}

// PurgeSecrets wipes all memguard-allocated memory. Call during graceful
// shutdown; every enclave-backed Secret is invalid afterwards.
func PurgeSecrets() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}
