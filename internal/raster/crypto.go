package raster

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// isPasswordError reports whether a pdfcpu error is caused by encryption.
func isPasswordError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"password", "encrypted", "decrypt", "authentication"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// decrypt writes an unencrypted copy of source into dir. The password is
// tried as both user and owner password.
func decrypt(source, dir, password string) (string, error) {
	conf := pdfmodel.NewDefaultConfiguration()
	conf.UserPW = password
	conf.OwnerPW = password

	out := filepath.Join(dir, "decrypted.pdf")
	if err := api.DecryptFile(source, out, conf); err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return out, nil
}
