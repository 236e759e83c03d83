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

// Package bitwarden provides the vault item model and an item source backed
// by the Bitwarden-compatible CLI. Items are immutable snapshots fetched
// fresh each run and are never persisted.
package bitwarden

import "time"

// ItemType represents the type of a vault item.
type ItemType int

const (
	TypeLogin    ItemType = 1
	TypeNote     ItemType = 2
	TypeCard     ItemType = 3
	TypeIdentity ItemType = 4
)

// FieldType represents the type of a custom field.
type FieldType int

const (
	FieldTypeText    FieldType = 0
	FieldTypeHidden  FieldType = 1
	FieldTypeBoolean FieldType = 2
	FieldTypeLinked  FieldType = 3
)

// Item represents a single vault item as returned by the CLI in JSON form.
type Item struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	FolderID       string    `json:"folderId"`
	CollectionIDs  []string  `json:"collectionIds"`
	Type           ItemType  `json:"type"`
	Name           string    `json:"name"`
	Notes          string    `json:"notes"`
	Favorite       bool      `json:"favorite"`
	Fields         []Field   `json:"fields"`
	Login          *Login    `json:"login"`
	Card           *Card     `json:"card"`
	Identity       *Identity `json:"identity"`
	RevisionDate   string    `json:"revisionDate"`
	CreationDate   string    `json:"creationDate"`
	DeletedDate    string    `json:"deletedDate"`
}

// Trashed reports whether the item sits in the vault's trash.
// Trashed items are never synced.
func (i *Item) Trashed() bool {
	return i.DeletedDate != ""
}

// Revision parses the item's revision timestamp. The zero time is returned
// for absent or malformed timestamps.
func (i *Item) Revision() time.Time {
	if i.RevisionDate == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, i.RevisionDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// CustomField returns the value of the named custom field and whether it
// exists. Field names are matched case-sensitively; the first match wins.
func (i *Item) CustomField(name string) (string, bool) {
	for _, f := range i.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Field represents a custom field on a vault item.
type Field struct {
	Name  string    `json:"name"`
	Value string    `json:"value"`
	Type  FieldType `json:"type"`
}

// Login represents login-specific data.
type Login struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Totp     string `json:"totp"`
	URIs     []URI  `json:"uris"`
}

// URI represents a URI associated with a login item.
type URI struct {
	Match *int   `json:"match"`
	URI   string `json:"uri"`
}

// Card represents card-specific data.
type Card struct {
	CardholderName string `json:"cardholderName"`
	Brand          string `json:"brand"`
	Number         string `json:"number"`
	ExpMonth       string `json:"expMonth"`
	ExpYear        string `json:"expYear"`
	Code           string `json:"code"`
}

// Identity represents identity-specific data.
type Identity struct {
	Title          string `json:"title"`
	FirstName      string `json:"firstName"`
	MiddleName     string `json:"middleName"`
	LastName       string `json:"lastName"`
	Address1       string `json:"address1"`
	Address2       string `json:"address2"`
	Address3       string `json:"address3"`
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postalCode"`
	Country        string `json:"country"`
	Company        string `json:"company"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	SSN            string `json:"ssn"`
	Username       string `json:"username"`
	PassportNumber string `json:"passportNumber"`
	LicenseNumber  string `json:"licenseNumber"`
}

// Status represents the status response from 'bw status'.
type Status struct {
	Status    string `json:"status"`
	LastSync  string `json:"lastSync"`
	UserEmail string `json:"userEmail"`
	UserID    string `json:"userId"`
}
