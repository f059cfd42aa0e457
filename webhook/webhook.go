// Package webhook validates signed callbacks from the Twitter Account
// Activity API and answers its CRC handshake probes.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"telegram-twitter-relay/pkg/relay"
)

// ErrMissingSecret is returned by ChallengeResponse when no consumer secret
// is configured.
var ErrMissingSecret = errors.New("webhook secret is not configured")

// SignaturePrefix precedes the base64 HMAC in the provider's signature header.
const SignaturePrefix = "sha256="

// Verifier checks webhook payload signatures against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier. An empty secret is allowed; it makes every
// Verify call return false.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify reports whether providedSignature is a valid HMAC-SHA256 of payload
// under the shared secret. The signature may carry the "sha256=" prefix.
// It never fails loudly: an unset secret or garbage input just returns false.
func (v *Verifier) Verify(payload []byte, providedSignature string) bool {
	if len(v.secret) == 0 || providedSignature == "" {
		return false
	}
	providedSignature = strings.TrimPrefix(providedSignature, SignaturePrefix)
	provided, err := base64.StdEncoding.DecodeString(providedSignature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), provided)
}

// ChallengeResponse answers the provider's CRC handshake: the base64 HMAC of
// the token, prefixed "sha256=".
func (v *Verifier) ChallengeResponse(crcToken string) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrMissingSecret
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(crcToken))
	return SignaturePrefix + base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// payload mirrors the subset of the Account Activity event body we consume.
type payload struct {
	DirectMessageEvents []struct {
		ID            string `json:"id"`
		CreatedAt     string `json:"created_timestamp"` // epoch millis as string
		MessageCreate struct {
			SenderID    string `json:"sender_id"`
			MessageData struct {
				Text       string `json:"text"`
				Attachment struct {
					Media struct {
						MediaURL string `json:"media_url_https"`
					} `json:"media"`
				} `json:"attachment"`
			} `json:"message_data"`
		} `json:"message_create"`
	} `json:"direct_message_events"`
	Users map[string]struct {
		Name       string `json:"name"`
		ScreenName string `json:"screen_name"`
	} `json:"users"`
}

// ParseEvents extracts direct message events from a verified callback body.
// Bodies without DM events (follow events, typing indicators and so on)
// yield an empty slice, not an error.
func ParseEvents(body []byte) ([]relay.DirectMessageEvent, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}

	events := make([]relay.DirectMessageEvent, 0, len(p.DirectMessageEvents))
	for _, dm := range p.DirectMessageEvents {
		ev := relay.DirectMessageEvent{
			ID:       dm.ID,
			SenderID: dm.MessageCreate.SenderID,
			Text:     dm.MessageCreate.MessageData.Text,
		}
		if ms := dm.CreatedAt; ms != "" {
			if t, ok := parseEpochMillis(ms); ok {
				ev.CreatedAt = t
			}
		}
		if u, ok := p.Users[ev.SenderID]; ok {
			ev.SenderName = u.Name
			ev.SenderHandle = u.ScreenName
		}
		if mediaURL := dm.MessageCreate.MessageData.Attachment.Media.MediaURL; mediaURL != "" {
			ev.Attachments = []string{mediaURL}
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseEpochMillis(s string) (time.Time, bool) {
	var ms int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return time.Time{}, false
		}
		ms = ms*10 + int64(c-'0')
	}
	return time.UnixMilli(ms), true
}
