package keys

import (
	"bytes"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/keybase/go-crypto/brainpool"
	"github.com/wokdav/certsign/generator/der"
)

func TestParseKeyAlgorithm(t *testing.T) {
	for _, alg := range KeyAlgorithms() {
		parsed, err := ParseKeyAlgorithm(alg.String())
		if err != nil {
			t.Fatal(err.Error())
		}
		if parsed != alg {
			t.Fatalf("expected %v, got %v", alg, parsed)
		}
	}

	if alg, err := ParseKeyAlgorithm("p-384"); err != nil || alg != P384 {
		t.Fatalf("expected case-insensitive match, got %v, %v", alg, err)
	}

	if _, err := ParseKeyAlgorithm("RSA-1000"); err == nil {
		t.Fatalf("this should fail")
	}
}

func TestGenerateAndRoundTrip(t *testing.T) {
	for _, alg := range KeyAlgorithms() {
		t.Run(alg.String(), func(t *testing.T) {
			if testing.Short() && (alg == RSA3072 || alg == RSA4096 || alg == DSA2048) {
				t.Skip("key generation is slow")
			}

			priv, err := Generate(alg, rand.Reader)
			if err != nil {
				t.Fatal(err.Error())
			}

			buf := &bytes.Buffer{}
			if err := WritePrivateKeyPEM(priv, buf); err != nil {
				t.Fatal(err.Error())
			}

			read, err := ReadPrivateKeyPEM(buf.Bytes())
			if err != nil {
				t.Fatal(err.Error())
			}

			pub, err := PublicKey(priv)
			if err != nil {
				t.Fatal(err.Error())
			}
			readPub, err := PublicKey(read)
			if err != nil {
				t.Fatal(err.Error())
			}

			want, err := PublicKeyInfo(priv)
			if err != nil {
				t.Fatal(err.Error())
			}
			got, err := PublicKeyInfo(read)
			if err != nil {
				t.Fatal(err.Error())
			}
			if !bytes.Equal(want.PublicKey, got.PublicKey) || !want.Algorithm.Equal(got.Algorithm) {
				t.Fatalf("public keys differ: %T / %T", pub, readPub)
			}
		})
	}
}

func TestGenerateUnknown(t *testing.T) {
	if _, err := Generate(keyAlgorithmCount, rand.Reader); err == nil {
		t.Fatalf("this should fail")
	}
}

func TestPKCS8MatchesX509(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err.Error())
	}

	ours, err := MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatal(err.Error())
	}

	theirs, err := x509.ParsePKCS8PrivateKey(ours)
	if err != nil {
		t.Fatalf("crypto/x509 can't read our PKCS#8: %v", err)
	}
	if !priv.Equal(theirs) {
		t.Fatal("key changed while passing through crypto/x509")
	}

	std, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatal(err.Error())
	}
	back, err := ParsePKCS8PrivateKey(std)
	if err != nil {
		t.Fatal(err.Error())
	}
	if !priv.Equal(back) {
		t.Fatal("key changed while reading crypto/x509 output")
	}
}

func TestReadTraditionalFormats(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatal(err.Error())
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatal(err.Error())
	}
	sec1, err := x509.MarshalECPrivateKey(ecKey)
	if err != nil {
		t.Fatal(err.Error())
	}

	dsaKey := &dsa.PrivateKey{}
	if err := dsa.GenerateParameters(&dsaKey.Parameters, rand.Reader, dsa.L1024N160); err != nil {
		t.Fatal(err.Error())
	}
	if err := dsa.GenerateKey(dsaKey, rand.Reader); err != nil {
		t.Fatal(err.Error())
	}
	openssl := der.MustEncode(der.Sequence{
		der.Int(0),
		der.BigInt(dsaKey.P), der.BigInt(dsaKey.Q), der.BigInt(dsaKey.G),
		der.BigInt(dsaKey.Y), der.BigInt(dsaKey.X),
	})

	tests := map[string]*pem.Block{
		"pkcs1": {Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)},
		"sec1":  {Type: "EC PRIVATE KEY", Bytes: sec1},
		"dsa":   {Type: "DSA PRIVATE KEY", Bytes: openssl},
	}

	for name, block := range tests {
		t.Run(name, func(t *testing.T) {
			// a leading parameters block must be skipped
			data := pem.EncodeToMemory(&pem.Block{Type: "EC PARAMETERS", Bytes: []byte{0x05, 0x00}})
			data = append(data, pem.EncodeToMemory(block)...)

			priv, err := ReadPrivateKeyPEM(data)
			if err != nil {
				t.Fatal(err.Error())
			}

			switch k := priv.(type) {
			case *rsa.PrivateKey:
				if !rsaKey.Equal(k) {
					t.Fatal("rsa key differs")
				}
			case *ecdsa.PrivateKey:
				if !ecKey.Equal(k) {
					t.Fatal("ec key differs")
				}
			case *dsa.PrivateKey:
				if k.X.Cmp(dsaKey.X) != 0 || k.Y.Cmp(dsaKey.Y) != 0 {
					t.Fatal("dsa key differs")
				}
			default:
				t.Fatalf("unexpected key type %T", priv)
			}
		})
	}
}

func TestBrainpoolPKCS8(t *testing.T) {
	priv, err := ecdsa.GenerateKey(brainpool.P512r1(), rand.Reader)
	if err != nil {
		t.Fatal(err.Error())
	}

	b, err := MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatal(err.Error())
	}

	// crypto/x509 doesn't know brainpool
	if _, err := x509.ParsePKCS8PrivateKey(b); err == nil {
		t.Fatal("expected crypto/x509 to reject brainpool keys")
	}

	read, err := ParsePKCS8PrivateKey(b)
	if err != nil {
		t.Fatal(err.Error())
	}

	ecKey, ok := read.(*ecdsa.PrivateKey)
	if !ok {
		t.Fatalf("expected an ECDSA key, got %T", read)
	}
	if ecKey.D.Cmp(priv.D) != 0 || ecKey.X.Cmp(priv.X) != 0 || ecKey.Curve.Params().Name != priv.Curve.Params().Name {
		t.Fatal("brainpool key differs")
	}
}

func TestReadErrors(t *testing.T) {
	tests := map[string][]byte{
		"empty":     nil,
		"no pem":    []byte("hello"),
		"cert only": pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{0x30, 0x00}}),
		"garbage":   pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{0x30, 0x00}}),
		"encrypted": pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: []byte{0x30, 0x00}}),
		"dek-info": pem.EncodeToMemory(&pem.Block{
			Type:    "RSA PRIVATE KEY",
			Headers: map[string]string{"Proc-Type": "4,ENCRYPTED", "DEK-Info": "AES-128-CBC,00"},
			Bytes:   []byte{0x30, 0x00},
		}),
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadPrivateKeyPEM(data); err == nil {
				t.Fatalf("this should fail")
			}
		})
	}
}

func TestWriteUnsupported(t *testing.T) {
	if err := WritePrivateKeyPEM("key", &bytes.Buffer{}); err == nil {
		t.Fatalf("this should fail")
	}
}
