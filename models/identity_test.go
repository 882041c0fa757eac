package models

import (
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
)

func TestClientIDKnownDigest(t *testing.T) {
	assert.Equal(t, "cba2e1e26d0e1e9b7e984b80eb42e3f3", ClientID("Ivan", "89123456789"))
	assert.Equal(t, "ea6a36b57b7c3a7813c11d4284d450ac", ClientID("Maria", ""))
	assert.Equal(t, "840c983627054efb1f6611856e6dcf3c",
		VisitID("2026-10-19 10:00:00", "Ivan", "89123456789"))
}

func TestClientIDDeterministic(t *testing.T) {
	faker := gofakeit.New(42)

	for i := 0; i < 200; i++ {
		name := faker.Name()
		phone := faker.Phone()
		other := phone + "0"

		assert.Equal(t, ClientID(name, phone), ClientID(name, phone))
		assert.Len(t, ClientID(name, phone), 32)
		assert.NotEqual(t, ClientID(name, phone), ClientID(name, other),
			"phones %q and %q must give different ids", phone, other)
	}
}

func TestClientIDIsFormattingSensitive(t *testing.T) {
	assert.NotEqual(t, ClientID("Ivan", "89123456789"), ClientID("ivan", "89123456789"))
	assert.NotEqual(t, ClientID("Ivan", "89123456789"), ClientID("Ivan ", "89123456789"))
	assert.NotEqual(t, ClientID("Ivan", "8 912 345-67-89"), ClientID("Ivan", "89123456789"))
}

func TestCanonicalIdentity(t *testing.T) {
	tests := []struct {
		name      string
		inName    string
		inPhone   string
		wantName  string
		wantPhone string
	}{
		{"already canonical", "Ivan", "89123456789", "Ivan", "89123456789"},
		{"outer and inner spaces", "  Anna   Maria ", "89991234567", "Anna Maria", "89991234567"},
		{"phone punctuation", "Ivan", "8 (912) 345-67-89", "Ivan", "89123456789"},
		{"leading plus kept", "Ivan", "+7 912 345 67 89", "Ivan", "+79123456789"},
		{"inner plus dropped", "Ivan", "7+912", "Ivan", "7912"},
		{"decomposed letters composed", "\u0418\u0306van", "", "\u0419van", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, phone := CanonicalIdentity(tt.inName, tt.inPhone)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantPhone, phone)
		})
	}
}

func TestCanonicalIdentityMergesFormattingVariants(t *testing.T) {
	a, ap := CanonicalIdentity("Ivan ", "8-912-345-67-89")
	b, bp := CanonicalIdentity("Ivan", "89123456789")
	assert.Equal(t, ClientID(b, bp), ClientID(a, ap))
}
