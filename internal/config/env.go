package config

import (
	"fmt"
	"strings"
)

// Environment variables that describe the backup target.
const (
	EnvUser       = "SSH_USER"
	EnvHost       = "SSH_HOST"
	EnvPath       = "SSH_PATH"
	EnvMySQLPath  = "SSH_MYSQL_PATH"
	EnvPrivateKey = "SSH_PUBLIC_KEY"
)

// JobConfig holds the per-run connection target read from the environment
type JobConfig struct {
	User       string
	Host       string
	RemotePath string

	// PrivateKey is PEM (or ENC1 wrapped) key material. Empty selects
	// interactive authentication.
	PrivateKey string

	// RemoteMySQLPath is read for compatibility and not used by any step.
	RemoteMySQLPath string
}

// MissingVariablesError lists every required variable that was unset or empty
type MissingVariablesError struct {
	Names []string
}

func (e *MissingVariablesError) Error() string {
	return fmt.Sprintf("missing required environment variables: %v", e.Names)
}

// LoadJob reads the job variables through getenv and reports all missing
// required names together.
func LoadJob(getenv func(string) string) (JobConfig, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(getenv(key))
	}

	job := JobConfig{
		User:            lookup(EnvUser),
		Host:            lookup(EnvHost),
		RemotePath:      lookup(EnvPath),
		RemoteMySQLPath: lookup(EnvMySQLPath),
		// key material keeps its inner newlines, only outer blank space goes
		PrivateKey: lookup(EnvPrivateKey),
	}

	var missing []string
	for _, required := range []struct {
		name  string
		value string
	}{
		{EnvUser, job.User},
		{EnvHost, job.Host},
		{EnvPath, job.RemotePath},
	} {
		if required.value == "" {
			missing = append(missing, required.name)
		}
	}

	if len(missing) > 0 {
		return JobConfig{}, &MissingVariablesError{Names: missing}
	}

	return job, nil
}
