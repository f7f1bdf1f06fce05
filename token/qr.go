package token

import (
	"strings"

	"xdao.co/drinkpoap/model"
)

// DefaultQRScheme prefixes tokens rendered into venue QR codes.
const DefaultQRScheme = "brewhouse"

// QRPayload renders a token as "<scheme>:<token>" for a QR code.
func (s *Service) QRPayload(raw string) string {
	return s.scheme + ":" + raw
}

// ParseQRPayload extracts the token from a scanned QR payload.
func (s *Service) ParseQRPayload(payload string) (string, error) {
	return ParseQRPayload(payload, s.scheme)
}

// ParseQRPayload extracts the token from "<scheme>:<token>". The scheme
// compares case-insensitively.
func ParseQRPayload(payload, scheme string) (string, error) {
	if scheme == "" {
		scheme = DefaultQRScheme
	}
	prefix, raw, ok := strings.Cut(strings.TrimSpace(payload), ":")
	if !ok || !strings.EqualFold(prefix, scheme) {
		return "", model.Errorf(model.KindTokenInvalid, "qr payload is not a %s token", scheme)
	}
	if raw == "" {
		return "", model.NewError(model.KindTokenInvalid, "qr payload carries no token")
	}
	return raw, nil
}
