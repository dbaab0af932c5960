package checkin

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"time"

	"ms-booking/internal/models"

	"github.com/skip2/go-qrcode"
)

// ErrInvalidPass is returned for payloads that fail to decrypt or decode.
var ErrInvalidPass = errors.New("invalid check-in pass")

// Pass is what a booking QR code carries.
type Pass struct {
	BookingID  string    `json:"booking_id"`
	TenantID   string    `json:"tenant_id"`
	ResourceID string    `json:"resource_id"`
	StartAt    time.Time `json:"start_at"`
	IssuedAt   time.Time `json:"issued_at"`
}

type QRGenerator struct {
	aead cipher.AEAD
	Now  func() time.Time
}

func NewQRGenerator(secret string) (*QRGenerator, error) {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	block, err := aes.NewCipher(hashed[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &QRGenerator{aead: aead, Now: time.Now}, nil
}

// Payload returns the encrypted, URL-safe pass for b.
func (q *QRGenerator) Payload(b *models.Booking) (string, error) {
	data, err := json.Marshal(Pass{
		BookingID:  b.ID,
		TenantID:   b.TenantID,
		ResourceID: b.ResourceID,
		StartAt:    b.StartAt.UTC(),
		IssuedAt:   q.Now().UTC().Truncate(time.Second),
	})
	if err != nil {
		return "", err
	}

	nonce := make([]byte, q.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := q.aead.Seal(nonce, nonce, data, []byte(b.TenantID))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// GenerateEncryptedQR renders the pass for b as a PNG.
func (q *QRGenerator) GenerateEncryptedQR(b *models.Booking) ([]byte, error) {
	payload, err := q.Payload(b)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(payload, qrcode.Medium, 256)
}

// Decode opens a payload produced by Payload. The tenant is bound as
// additional data, so a pass only opens for the tenant it was issued to.
func (q *QRGenerator) Decode(tenantID, payload string) (*Pass, error) {
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrInvalidPass
	}
	ns := q.aead.NonceSize()
	if len(raw) <= ns {
		return nil, ErrInvalidPass
	}
	data, err := q.aead.Open(nil, raw[:ns], raw[ns:], []byte(tenantID))
	if err != nil {
		return nil, ErrInvalidPass
	}
	var p Pass
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, ErrInvalidPass
	}
	if p.TenantID != tenantID {
		return nil, ErrInvalidPass
	}
	return &p, nil
}
