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

// Package directive extracts sync directives from vault items. A directive
// can live in a custom field or, for backward compatibility, in a tagged
// line inside the item's free-text notes; the custom field always wins.
package directive

import (
	"strings"

	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/bitwarden"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/config"
)

// SyncDirective is the normalized sync instruction derived from one vault item.
type SyncDirective struct {
	// Namespaces are the target namespaces, deduplicated, in directive order.
	Namespaces []string

	// SecretName overrides the derived secret name. Empty means "derive from
	// the item name".
	SecretName string

	// UsernameKey overrides the payload key for the username value.
	// Empty means the canonical "username".
	UsernameKey string

	// PasswordKey overrides the payload key for the password value.
	// Empty means the canonical "password".
	PasswordKey string

	// IgnoreFields is the set of custom-field names excluded from the payload.
	// Directive fields themselves are always members.
	IgnoreFields map[string]struct{}

	// Annotations are operator-supplied annotations for the synced secret.
	Annotations map[string]string

	// Labels are operator-supplied labels for the synced secret.
	Labels map[string]string
}

// Ignored reports whether the named custom field is excluded from the payload.
func (d *SyncDirective) Ignored(field string) bool {
	_, ok := d.IgnoreFields[field]
	return ok
}

// extractor is one step of a fallback chain: it either yields a directive
// value or passes to the next extractor.
type extractor func(item *bitwarden.Item) (string, bool)

// Normalizer parses vault items into sync directives. It is a pure function
// of item content and the directive field-name configuration.
type Normalizer struct {
	fields config.Directives
}

// NewNormalizer creates a Normalizer using the given directive field names.
func NewNormalizer(fields config.Directives) *Normalizer {
	return &Normalizer{fields: fields}
}

// Normalize extracts the sync directive from a vault item. The second return
// value is false when the item carries no namespace directive and is
// therefore excluded from sync entirely; exclusion is not an error.
func (n *Normalizer) Normalize(item *bitwarden.Item) (*SyncDirective, bool) {
	raw, ok := n.lookup(item, n.fields.Namespaces)
	if !ok {
		return nil, false
	}
	namespaces := splitList(raw)
	if len(namespaces) == 0 {
		// Present but empty: nothing to target, same as excluded.
		return nil, false
	}

	d := &SyncDirective{
		Namespaces:   namespaces,
		IgnoreFields: n.baseIgnoreSet(),
		Annotations:  map[string]string{},
		Labels:       map[string]string{},
	}

	if v, ok := n.lookup(item, n.fields.SecretName); ok {
		d.SecretName = strings.TrimSpace(v)
	}
	if v, ok := n.lookup(item, n.fields.UsernameKey); ok {
		d.UsernameKey = strings.TrimSpace(v)
	}
	if v, ok := n.lookupPasswordKey(item); ok {
		d.PasswordKey = strings.TrimSpace(v)
	}
	if v, ok := n.lookup(item, n.fields.IgnoreFields); ok {
		for _, f := range splitList(v) {
			d.IgnoreFields[f] = struct{}{}
		}
	}
	if v, ok := n.lookup(item, n.fields.Annotations); ok {
		d.Annotations = parseKeyValueLines(v)
	}
	if v, ok := n.lookup(item, n.fields.Labels); ok {
		d.Labels = parseKeyValueLines(v)
	}

	return d, true
}

// lookup runs the fallback chain for one directive: custom field first, then
// the legacy notes tag.
func (n *Normalizer) lookup(item *bitwarden.Item, field string) (string, bool) {
	chain := []extractor{
		fromCustomField(field),
		fromNotesTag(field),
	}
	return runChain(chain, item)
}

// lookupPasswordKey runs the password-key chain, which additionally falls
// back to the legacy field name.
func (n *Normalizer) lookupPasswordKey(item *bitwarden.Item) (string, bool) {
	chain := []extractor{
		fromCustomField(n.fields.PasswordKey),
		fromNotesTag(n.fields.PasswordKey),
		fromCustomField(n.fields.LegacyPasswordKey),
		fromNotesTag(n.fields.LegacyPasswordKey),
	}
	return runChain(chain, item)
}

func runChain(chain []extractor, item *bitwarden.Item) (string, bool) {
	for _, extract := range chain {
		if v, ok := extract(item); ok {
			return v, true
		}
	}
	return "", false
}

// fromCustomField extracts a directive from the named custom field.
func fromCustomField(field string) extractor {
	return func(item *bitwarden.Item) (string, bool) {
		return item.CustomField(field)
	}
}

// fromNotesTag extracts a directive from a '#<name>:' tagged line inside the
// item's free-text notes.
func fromNotesTag(field string) extractor {
	tag := "#" + field + ":"
	return func(item *bitwarden.Item) (string, bool) {
		for _, line := range strings.Split(item.Notes, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, tag) {
				return strings.TrimSpace(strings.TrimPrefix(line, tag)), true
			}
		}
		return "", false
	}
}

// baseIgnoreSet seeds the ignore set with every directive field name so
// directive-scoped metadata never leaks into the synced payload.
func (n *Normalizer) baseIgnoreSet() map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range []string{
		n.fields.Namespaces,
		n.fields.SecretName,
		n.fields.UsernameKey,
		n.fields.PasswordKey,
		n.fields.LegacyPasswordKey,
		n.fields.IgnoreFields,
		n.fields.Annotations,
		n.fields.Labels,
	} {
		if f != "" {
			set[f] = struct{}{}
		}
	}
	return set
}

// splitList splits a comma-separated directive value, trimming whitespace,
// dropping empty entries, and deduplicating while preserving order. Matching
// is case-sensitive.
func splitList(raw string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}

// parseKeyValueLines parses multi-line 'key=value' or 'key: value' text.
// Malformed lines are skipped silently since an operator may be mid-edit.
func parseKeyValueLines(raw string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Whichever separator appears first decides the syntax.
		eq := strings.Index(line, "=")
		colon := strings.Index(line, ":")
		sep := eq
		if sep == -1 || (colon != -1 && colon < sep) {
			sep = colon
		}
		if sep <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:sep])
		value := strings.TrimSpace(line[sep+1:])
		if key == "" {
			continue
		}
		out[key] = value
	}
	return out
}
