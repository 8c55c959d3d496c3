package config

import (
	"bufio"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// fileEncryptionEnabled is the value Config.EncryptConfig must hold for
// config-at-rest encryption to be exercised. Zero (the default) means the
// config is read and written as plain JSON.
const fileEncryptionEnabled = 1

const (
	encryptionPrefix        = "LSD-CONFIG~"
	encryptionVersionPrefix = "~V~"
	saltPrefix              = "~SALT~"
	saltRandomLength        = 16
	versionSize             = 2

	currentEncryptionVersion uint16 = 2
	pbkdf2Iterations                = 4096
	sessionKeyLength                = 32 // AES-256
)

// IsEncrypted reports whether data begins with the marker written by
// EncryptConfigData. It does not validate the rest of the document.
func IsEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, []byte(encryptionPrefix))
}

// makeNewSessionDK derives a fresh AES-256 key from passphrase using a
// random salt, suitable for a brand new encrypted config document.
func makeNewSessionDK(passphrase []byte) (sessionDK, salt []byte, err error) {
	if len(passphrase) == 0 {
		return nil, nil, errKeyIsEmpty
	}
	salt = make([]byte, saltRandomLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, err
	}
	return deriveSessionDK(passphrase, salt), salt, nil
}

func deriveSessionDK(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, pbkdf2Iterations, sessionKeyLength, sha256.New)
}

// EncryptConfigData wraps data in the current encrypted-config envelope,
// deriving a fresh salt and AES-256-GCM key from passphrase.
func EncryptConfigData(data, passphrase []byte) ([]byte, error) {
	sessionDK, salt, err := makeNewSessionDK(passphrase)
	if err != nil {
		return nil, err
	}
	return sealWithSalt(data, sessionDK, salt)
}

func sealWithSalt(data, sessionDK, salt []byte) ([]byte, error) {
	ciphertext, err := encryptAESGCMCiphertext(data, sessionDK)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.WriteString(encryptionPrefix)
	out.WriteString(encryptionVersionPrefix)
	var verBuf [versionSize]byte
	binary.BigEndian.PutUint16(verBuf[:], currentEncryptionVersion)
	out.Write(verBuf[:])
	out.WriteString(saltPrefix)
	out.Write(salt)
	out.Write(ciphertext)
	return out.Bytes(), nil
}

// DecryptConfigData unwraps an encrypted config document produced by
// EncryptConfigData, or by the legacy AES-CFB scheme it replaced.
func DecryptConfigData(data, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errKeyIsEmpty
	}
	if !bytes.HasPrefix(data, []byte(encryptionPrefix)) {
		return nil, errNoPrefix
	}
	rest := data[len(encryptionPrefix):]

	if bytes.HasPrefix(rest, []byte(encryptionVersionPrefix)) {
		rest = rest[len(encryptionVersionPrefix):]
		if len(rest) < versionSize {
			return nil, errUnsupportedEncryptionVersion
		}
		version := binary.BigEndian.Uint16(rest[:versionSize])
		if version != currentEncryptionVersion {
			return nil, errUnsupportedEncryptionVersion
		}
		rest = rest[versionSize:]

		if !bytes.HasPrefix(rest, []byte(saltPrefix)) {
			return nil, errNoPrefix
		}
		rest = rest[len(saltPrefix):]
		if len(rest) < saltRandomLength {
			return nil, errAESBlockSize
		}
		salt, ciphertext := rest[:saltRandomLength], rest[saltRandomLength:]
		return decryptAESGCMCiphertext(ciphertext, deriveSessionDK(passphrase, salt))
	}

	// Legacy documents carry no version marker: salt immediately followed
	// by an AES-CFB ciphertext.
	if len(rest) < saltRandomLength {
		return nil, errAESBlockSize
	}
	salt, ciphertext := rest[:saltRandomLength], rest[saltRandomLength:]
	return decryptAESCFBCiphertext(ciphertext, deriveSessionDK(passphrase, salt))
}

func encryptAESGCMCiphertext(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptAESGCMCiphertext(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, errAESBlockSize
	}
	nonce, ct := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errDecryptFailed
	}
	return pt, nil
}

// decryptAESCFBCiphertext decrypts the legacy scheme, where the IV is
// prepended to the ciphertext in plain AES-CFB mode.
func decryptAESCFBCiphertext(ciphertext, key []byte) ([]byte, error) {
	if len(ciphertext) < aes.BlockSize {
		return nil, errAESBlockSize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv, ct := ciphertext[:aes.BlockSize], ciphertext[aes.BlockSize:]
	pt := make([]byte, len(ct))
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(pt, ct)
	return pt, nil
}

// promptForConfigEncryption asks the operator, via in, whether a freshly
// loaded plaintext config should be encrypted on next save.
func promptForConfigEncryption(in io.Reader) (bool, error) {
	fmt.Println("Would you like to encrypt your config file on disk? (y/N): ")
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return false, err
		}
		return false, nil
	}
	answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
	return answer == "y" || answer == "yes", nil
}

// PromptForConfigKey prompts for the config encryption passphrase on stdin.
// When confirm is true the operator must type it twice matching.
func PromptForConfigKey(confirm bool) ([]byte, error) {
	for {
		fmt.Print("Enter password to decrypt config: ")
		key, err := readPassword()
		if err != nil {
			return nil, err
		}
		if len(key) == 0 {
			fmt.Println("A non-empty password is required.")
			continue
		}
		if !confirm {
			return key, nil
		}

		fmt.Print("Re-enter password to confirm: ")
		confirmKey, err := readPassword()
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(key, confirmKey) {
			fmt.Println("Passwords did not match, try again.")
			continue
		}
		return key, nil
	}
}

func readPassword() ([]byte, error) {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, err
	}
	return []byte(strings.TrimSpace(line)), nil
}
