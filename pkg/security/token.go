// Package security implements the AEAD bearer-token codec and the banned
// principal list shared by both servers.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
	"lukechampine.com/blake3"
)

// TokenSeparator joins the tagged parts inside a token plaintext. Parts must
// never contain it.
const TokenSeparator = "**"

// NoneID is the ID reported for any token that fails to open.
const NoneID = "00000000-0000-0000-0000-000000000001"

const nonceSize = 12

// MaxKeyAgeDays is the bearer token lifetime.
const MaxKeyAgeDays = 365

// Token is the result of opening a bearer value. Decode never fails upward;
// a bad blob yields {Success:false, Data:[], DaysOld:0, ID:NoneID}.
type Token struct {
	Success bool     `json:"decryption_success"`
	Data    []string `json:"data"`
	DaysOld int      `json:"days_old"`
	ID      string   `json:"ID"`
}

// Valid applies the authorization policy shared by both servers. Blacklist
// checks are layered on top by the gateway.
func (t Token) Valid() bool {
	return t.Success && t.DaysOld < MaxKeyAgeDays && IsValidUUID4(t.ID)
}

// Codec seals and opens bearer tokens with a process-wide AES-256-GCM key
// persisted at a key file. The key is loaded lazily and cached for the
// process lifetime.
type Codec struct {
	path string

	mu  sync.Mutex
	key []byte
}

func NewCodec(keyFile string) *Codec {
	return &Codec{path: keyFile}
}

// loadKey returns the cached symmetric key, reading the key file or
// generating a fresh key (written atomically) on first use.
func (c *Codec) loadKey() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.key != nil {
		return c.key, nil
	}

	raw, err := os.ReadFile(c.path)
	if err == nil {
		var stored struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(raw, &stored); err != nil {
			return nil, errors.Wrapf(err, "malformed key file %s", c.path)
		}
		key, err := base64.StdEncoding.DecodeString(stored.Key)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed key in %s", c.path)
		}
		c.key = key
		return c.key, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "read key file")
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	blob, err := json.MarshalIndent(map[string]string{
		"key": base64.StdEncoding.EncodeToString(key),
	}, "", "    ")
	if err != nil {
		return nil, err
	}
	if err := atomic.WriteFile(c.path, strings.NewReader(string(blob))); err != nil {
		return nil, errors.Wrap(err, "store key file")
	}
	c.key = key
	return c.key, nil
}

// Encode seals the given parts together with a fresh request-binding UUIDv4
// and the issuance timestamp. Output is URL-safe base64 of nonce||ct||tag.
func (c *Codec) Encode(parts ...string) (string, error) {
	return c.encodeAt(time.Now(), uuid.NewString(), parts...)
}

func (c *Codec) encodeAt(issued time.Time, id string, parts ...string) (string, error) {
	key, err := c.loadKey()
	if err != nil {
		return "", err
	}

	fields := make([]string, 0, len(parts)+2)
	fields = append(fields, parts...)
	fields = append(fields, id, issued.Format("2006-01-02T15:04:05"))
	plaintext := strings.Join(fields, TokenSeparator)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	blob := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(blob), nil
}

// Decode opens a bearer value. Any failure (bad base64, truncated blob,
// AEAD rejection, missing fields, unparsable timestamp) yields the nil
// token rather than an error.
func (c *Codec) Decode(blob string) Token {
	failed := Token{Success: false, Data: []string{}, DaysOld: 0, ID: NoneID}

	key, err := c.loadKey()
	if err != nil {
		return failed
	}

	raw, err := base64.URLEncoding.DecodeString(blob)
	if err != nil || len(raw) <= nonceSize {
		return failed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return failed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return failed
	}
	plaintext, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return failed
	}

	fields := strings.Split(string(plaintext), TokenSeparator)
	if len(fields) < 2 {
		return failed
	}
	ts := fields[len(fields)-1]
	id := fields[len(fields)-2]
	data := fields[:len(fields)-2]

	issued, err := time.Parse("2006-01-02T15:04:05", ts)
	if err != nil {
		return failed
	}

	return Token{
		Success: true,
		Data:    append([]string{}, data...),
		DaysOld: int(time.Since(issued).Hours() / 24),
		ID:      id,
	}
}

// Fingerprint returns a short stable digest of a bearer value, safe for log
// lines and rate-limit bucket keys. Raw tokens are never held in either.
func Fingerprint(blob string) string {
	sum := blake3.Sum256([]byte(blob))
	return hex.EncodeToString(sum[:8])
}
