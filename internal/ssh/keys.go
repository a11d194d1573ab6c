package ssh

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	crypto "github.com/yourusername/wordpress-backup/internal/crypto"
	"golang.org/x/crypto/ssh"
)

const transientKeyPattern = "wpbackup-key-*.pem"

// WithTransientKeyFile writes material to a fresh 0600 file in dir, calls fn
// with its path and removes the file before returning, whatever fn did.
func WithTransientKeyFile(dir string, material []byte, fn func(path string) error) (err error) {
	file, err := os.CreateTemp(dir, transientKeyPattern)
	if err != nil {
		return fmt.Errorf("failed to create temporary key file: %w", err)
	}
	path := file.Name()

	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) && err == nil {
			err = fmt.Errorf("failed to remove temporary key file: %w", rmErr)
		}
	}()

	if err := file.Chmod(0600); err != nil {
		file.Close()
		return fmt.Errorf("failed to restrict temporary key file: %w", err)
	}

	data := material
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(append([]byte{}, data...), '\n')
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write temporary key file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temporary key file: %w", err)
	}

	return fn(path)
}

// ReadPrivateKeyBytes reads a private key file and decrypts it if it uses ENC1 encoding.
func ReadPrivateKeyBytes(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}

	if !crypto.IsWrappedKey(data) {
		return data, nil
	}

	manager, err := crypto.NewEncryptionManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption manager: %w", err)
	}

	return manager.UnwrapKey(data)
}

// loadPrivateKey parses the key at path, asking the prompter for a
// passphrase when the key is encrypted.
func loadPrivateKey(path string, prompter Prompter) (ssh.Signer, error) {
	key, err := ReadPrivateKeyBytes(path)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err == nil {
		return signer, nil
	}

	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) || prompter == nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}

	passphrase, perr := prompter.Password("Enter passphrase for private key: ")
	if perr != nil {
		return nil, fmt.Errorf("private key is encrypted: %w", perr)
	}

	signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}
	return signer, nil
}
