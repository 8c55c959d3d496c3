package config

import "github.com/pkg/errors"

var (
	// errNilConfig guards methods that dereference a nil *Config.
	errNilConfig = errors.New("config: config is nil")

	// ErrNoServices is returned by Check when the document configures zero
	// services; a client with nothing to dispatch to is almost always a
	// mistake rather than intentional.
	ErrNoServices = errors.New("config: no services configured")

	// ErrSettingEncryptConfig is returned by encryptConfigData when
	// EncryptConfig is not enabled on the receiver.
	ErrSettingEncryptConfig = errors.New("config: EncryptConfig is not enabled")

	errKeyIsEmpty                   = errors.New("config: encryption key is empty")
	errNoPrefix                     = errors.New("config: data does not carry the encrypted config prefix")
	errAESBlockSize                 = errors.New("config: ciphertext shorter than required block/nonce size")
	errUnsupportedEncryptionVersion = errors.New("config: unsupported encryption version")
	errDecryptFailed                = errors.New("config: decryption failed, wrong key or corrupted file")
)
