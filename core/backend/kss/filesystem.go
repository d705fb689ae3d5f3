package kss

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/kumii/core/logger"
)

// LocalFilesystem is the entity which provides local filesystem storage. Files are
// served under /files/{key} with a signed expiry.
type LocalFilesystem struct {
	baseFolder string
	publicURL  url.URL
	privateKey *rsa.PrivateKey
	expiry     time.Duration
}

// NewLocalFilesystem returns a new LocalFilesystem and registers the download route on router.
// If privateKey is nil, a random one is generated.
func NewLocalFilesystem(router *mux.Router, config LocalConfiguration, privateKey *rsa.PrivateKey) (*LocalFilesystem, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("BasePath must not be empty")
	}
	publicURL, err := url.Parse(strings.TrimSuffix(config.PublicURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid public URL: %w", err)
	}
	if privateKey == nil {
		logger.Default().Warn("No private key provided to sign URLs, a random one will be generated")
		logger.Default().Warn("This can only work when running in a single instance configuration")
		privateKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(config.BasePath, 0700); err != nil {
		return nil, err
	}
	f := &LocalFilesystem{baseFolder: config.BasePath, publicURL: *publicURL, privateKey: privateKey, expiry: DefaultURLExpiry}
	if router != nil {
		logger.Default().Debugln("filesystem routes enabled")
		logger.Default().Debugln("  handle file route: /files/{key} GET")
		router.Handle("/files/{key:.+}", http.HandlerFunc(f.handler)).Methods(http.MethodGet, http.MethodHead)
	}
	return f, nil
}

func (f *LocalFilesystem) handler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	rlog := logger.FromContext(r.Context())
	if !validKey(key) {
		http.Error(w, ".. not authorized in keys", http.StatusBadRequest)
		return
	}
	v := r.URL.Query()
	if !f.isValid(key, v.Get("expiry"), v.Get("signature")) {
		rlog.Errorf("invalid signature for %s", key)
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return
	}
	filePath := f.path(key)
	if _, err := os.Stat(filePath); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if contentType, err := os.ReadFile(filePath + ".type"); err == nil {
		w.Header().Set("Content-Type", string(contentType))
	}
	rlog.Debugf("Filesystem: [%s] key: '%s'", r.Method, key)
	http.ServeFile(w, r, filePath)
}

func (f *LocalFilesystem) path(key string) string {
	return filepath.Join(f.baseFolder, filepath.FromSlash(key))
}

// Put stores the file under key
func (f *LocalFilesystem) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	filePath := f.path(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 1202: Could not create folder for key: '%s'", key)
		return err
	}
	dstFile, err := os.Create(filePath)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 1203: Could not create file for key: '%s'", key)
		return err
	}
	defer dstFile.Close()
	written, err := io.Copy(dstFile, body)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 1204: Could not copy data for key: '%s'", key)
		return err
	}
	if size >= 0 && written != size {
		return fmt.Errorf("expected %d bytes for key '%s', got %d", size, key, written)
	}
	if contentType != "" {
		return os.WriteFile(filePath+".type", []byte(contentType), 0600)
	}
	return nil
}

// Delete deletes the key file
func (f *LocalFilesystem) Delete(ctx context.Context, key string) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	filePath := f.path(key)
	os.Remove(filePath + ".type")
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// URL returns a signed download URL which is valid for the configured expiry
func (f *LocalFilesystem) URL(ctx context.Context, key string) (string, error) {
	if !validKey(key) {
		return "", ErrInvalidKey
	}
	expiry := time.Now().Add(f.expiry).UTC().Format(time.RFC3339)
	signature, err := f.sign(key, expiry)
	if err != nil {
		return "", err
	}
	v := url.Values{}
	v.Set("expiry", expiry)
	v.Set("signature", signature)
	u := url.URL{
		Scheme:   f.publicURL.Scheme,
		Host:     f.publicURL.Host,
		Path:     f.publicURL.Path + "/files/" + key,
		RawQuery: v.Encode(),
	}
	return u.String(), nil
}

func (f *LocalFilesystem) sign(key, expiry string) (string, error) {
	hashed := sha256.Sum256([]byte(key + "\n" + expiry))
	signature, err := rsa.SignPKCS1v15(rand.Reader, f.privateKey, crypto.SHA256, hashed[:])
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(signature), nil
}

// isValid tells whether or not the signature for key is valid and not expired
func (f *LocalFilesystem) isValid(key, expiry, signature string) bool {
	if expiry == "" || signature == "" {
		return false
	}
	t, err := time.Parse(time.RFC3339, expiry)
	if err != nil || t.Before(time.Now()) {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	hashed := sha256.Sum256([]byte(key + "\n" + expiry))
	return rsa.VerifyPKCS1v15(&f.privateKey.PublicKey, crypto.SHA256, hashed[:], raw) == nil
}
