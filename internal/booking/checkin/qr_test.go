package checkin

import (
	"bytes"
	"testing"
	"time"

	"ms-booking/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBooking() *models.Booking {
	return &models.Booking{
		ID:         "booking-1",
		TenantID:   "tenant-1",
		ResourceID: "res-1",
		StartAt:    time.Date(2030, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestQRGeneratorRoundTrip(t *testing.T) {
	qrGen, err := NewQRGenerator("test-secret-key")
	require.NoError(t, err)

	payload, err := qrGen.Payload(testBooking())
	require.NoError(t, err)

	pass, err := qrGen.Decode("tenant-1", payload)
	require.NoError(t, err)
	assert.Equal(t, "booking-1", pass.BookingID)
	assert.Equal(t, "res-1", pass.ResourceID)
	assert.True(t, pass.StartAt.Equal(testBooking().StartAt))
}

func TestQRGeneratorPNG(t *testing.T) {
	qrGen, err := NewQRGenerator("test-secret-key")
	require.NoError(t, err)

	png, err := qrGen.GenerateEncryptedQR(testBooking())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")), "output should be a PNG")
}

func TestQRGeneratorPayloadsDiffer(t *testing.T) {
	qrGen, err := NewQRGenerator("test-secret-key")
	require.NoError(t, err)

	a, err := qrGen.Payload(testBooking())
	require.NoError(t, err)
	b, err := qrGen.Payload(testBooking())
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "each pass uses a fresh nonce")
}

// tamper flips one character in the middle of the payload.
func tamper(payload string) string {
	b := []byte(payload)
	i := len(b) / 2
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	return string(b)
}

func TestQRGeneratorRejects(t *testing.T) {
	qrGen, err := NewQRGenerator("test-secret-key")
	require.NoError(t, err)
	other, err := NewQRGenerator("another-secret")
	require.NoError(t, err)

	payload, err := qrGen.Payload(testBooking())
	require.NoError(t, err)

	tests := []struct {
		name    string
		gen     *QRGenerator
		tenant  string
		payload string
	}{
		{"wrong tenant", qrGen, "tenant-2", payload},
		{"wrong secret", other, "tenant-1", payload},
		{"not base64", qrGen, "tenant-1", "%%%"},
		{"too short", qrGen, "tenant-1", "abcd"},
		{"tampered", qrGen, "tenant-1", tamper(payload)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.gen.Decode(tt.tenant, tt.payload)
			assert.ErrorIs(t, err, ErrInvalidPass)
		})
	}
}
