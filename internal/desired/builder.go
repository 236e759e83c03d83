/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package desired expands normalized vault items into desired secrets, one
// per target namespace. Building is a pure, deterministic function of
// (item, directive): re-running with unchanged input yields byte-identical
// payload maps, which fingerprint-based no-op detection depends on.
package desired

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/bitwarden"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/directive"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/shared/fingerprint"
	infraerrors "github.com/antoniolago/vaultwarden-kubernetes-secrets/shared/infrastructure/errors"
)

// Canonical payload keys for structured item fields.
const (
	KeyUsername = "username"
	KeyPassword = "password"
	KeyTotp     = "totp"
	KeyURI      = "uri"
	KeyNotes    = "notes"
)

// Secret is one (namespace, name) target with its full payload and metadata.
type Secret struct {
	Namespace   string
	Name        string
	Data        map[string][]byte
	Labels      map[string]string
	Annotations map[string]string

	// ItemID and ItemName trace the secret back to its source vault item.
	ItemID   string
	ItemName string
}

// Key returns the "namespace/name" identity of the secret.
func (s *Secret) Key() string {
	return s.Namespace + "/" + s.Name
}

// Fingerprint returns the content fingerprint of the payload.
func (s *Secret) Fingerprint() string {
	return fingerprint.FromPayload(s.Data)
}

// Builder expands items into desired secrets.
type Builder struct{}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// SecretName derives the secret name for an item: the directive override if
// present, otherwise a sanitized form of the item name. The result is not
// guaranteed valid; Build validates it.
func SecretName(item *bitwarden.Item, d *directive.SyncDirective) string {
	if d.SecretName != "" {
		return d.SecretName
	}
	return sanitizeName(item.Name)
}

// Build expands one item into a desired secret per target namespace.
// A validation failure fails every secret derived from the item; the caller
// records it per (namespace, name) and continues with other items.
func (b *Builder) Build(item *bitwarden.Item, d *directive.SyncDirective) ([]Secret, error) {
	name := SecretName(item, d)
	if errs := validation.IsDNS1123Subdomain(name); len(errs) > 0 {
		return nil, infraerrors.NewValidationError("secretName", name,
			fmt.Sprintf("invalid secret name: %s", strings.Join(errs, "; ")))
	}

	data, err := b.buildPayload(item, d)
	if err != nil {
		return nil, err
	}

	secrets := make([]Secret, 0, len(d.Namespaces))
	for _, ns := range d.Namespaces {
		secrets = append(secrets, Secret{
			Namespace:   ns,
			Name:        name,
			Data:        data,
			Labels:      d.Labels,
			Annotations: d.Annotations,
			ItemID:      item.ID,
			ItemName:    item.Name,
		})
	}
	return secrets, nil
}

// buildPayload assembles the payload: structured sub-payload fields first
// under their canonical (or overridden) keys, then custom fields not in the
// ignore set. On a same-key collision the structured value wins and the
// custom value is dropped; a case-insensitive collision between distinct
// keys is an error.
func (b *Builder) buildPayload(item *bitwarden.Item, d *directive.SyncDirective) (map[string][]byte, error) {
	usernameKey := d.UsernameKey
	if usernameKey == "" {
		usernameKey = KeyUsername
	}
	passwordKey := d.PasswordKey
	if passwordKey == "" {
		passwordKey = KeyPassword
	}
	if strings.EqualFold(usernameKey, passwordKey) {
		return nil, infraerrors.NewDirectiveError(item.Name, "secret-key overrides",
			fmt.Sprintf("username key %q and password key %q collide", usernameKey, passwordKey))
	}
	for _, key := range []string{usernameKey, passwordKey} {
		if errs := validation.IsConfigMapKey(key); len(errs) > 0 {
			return nil, infraerrors.NewDirectiveError(item.Name, "secret-key overrides",
				fmt.Sprintf("invalid payload key %q: %s", key, strings.Join(errs, "; ")))
		}
	}

	p := newPayload()

	switch item.Type {
	case bitwarden.TypeLogin:
		if login := item.Login; login != nil {
			p.setStructured(usernameKey, login.Username)
			p.setStructured(passwordKey, login.Password)
			p.setStructured(KeyTotp, login.Totp)
			for i, uri := range login.URIs {
				if uri.URI == "" {
					continue
				}
				key := KeyURI
				if i > 0 {
					key = fmt.Sprintf("%s_%d", KeyURI, i+1)
				}
				p.setStructured(key, uri.URI)
			}
		}
	case bitwarden.TypeCard:
		if card := item.Card; card != nil {
			p.setStructured("cardholder-name", card.CardholderName)
			p.setStructured("brand", card.Brand)
			p.setStructured("number", card.Number)
			p.setStructured("exp-month", card.ExpMonth)
			p.setStructured("exp-year", card.ExpYear)
			p.setStructured("code", card.Code)
		}
	case bitwarden.TypeIdentity:
		if id := item.Identity; id != nil {
			for _, kv := range []struct{ key, value string }{
				{"title", id.Title},
				{"first-name", id.FirstName},
				{"middle-name", id.MiddleName},
				{"last-name", id.LastName},
				{"address1", id.Address1},
				{"address2", id.Address2},
				{"address3", id.Address3},
				{"city", id.City},
				{"state", id.State},
				{"postal-code", id.PostalCode},
				{"country", id.Country},
				{"company", id.Company},
				{"email", id.Email},
				{"phone", id.Phone},
				{"ssn", id.SSN},
				{KeyUsername, id.Username},
				{"passport-number", id.PassportNumber},
				{"license-number", id.LicenseNumber},
			} {
				p.setStructured(kv.key, kv.value)
			}
		}
	}

	p.setStructured(KeyNotes, item.Notes)

	for _, f := range item.Fields {
		if f.Name == "" || d.Ignored(f.Name) {
			continue
		}
		if err := p.setCustom(f.Name, f.Value); err != nil {
			return nil, err
		}
	}

	return p.data, nil
}

// payload accumulates key/value pairs while tracking case-insensitive
// identity for collision detection.
type payload struct {
	data  map[string][]byte
	lower map[string]string // lowercase key -> original key
}

func newPayload() *payload {
	return &payload{
		data:  make(map[string][]byte),
		lower: make(map[string]string),
	}
}

// setStructured adds a structured field. Empty values are omitted; structured
// keys are canonical, so collisions between them do not happen.
func (p *payload) setStructured(key, value string) {
	if value == "" {
		return
	}
	p.data[key] = []byte(value)
	p.lower[strings.ToLower(key)] = key
}

// setCustom adds a custom field. A key already taken verbatim is a silent
// drop (the earlier source wins); a case-insensitive collision between
// distinct keys is a validation error. Keys must be valid secret data keys.
func (p *payload) setCustom(key, value string) error {
	if errs := validation.IsConfigMapKey(key); len(errs) > 0 {
		return infraerrors.NewValidationError("dataKey", key,
			fmt.Sprintf("invalid payload key: %s", strings.Join(errs, "; ")))
	}

	if existing, ok := p.lower[strings.ToLower(key)]; ok {
		if existing == key {
			return nil
		}
		return infraerrors.NewValidationError("dataKey", key,
			fmt.Sprintf("case-insensitive collision with payload key %q", existing))
	}

	p.data[key] = []byte(value)
	p.lower[strings.ToLower(key)] = key
	return nil
}

// sanitizeName lowercases an item name and replaces runs of characters that
// are invalid in a DNS-1123 name with single hyphens.
func sanitizeName(name string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(name) {
		valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '-'
		if !valid {
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
			continue
		}
		b.WriteRune(r)
		lastHyphen = r == '-'
	}
	return strings.Trim(b.String(), "-.")
}
