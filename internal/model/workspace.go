// Package model holds the plain data types shared by the service, storage
// and transport layers. Nothing here has behaviour beyond small helpers.
package model

import "time"

// Workspace is a saved program plus the language it runs as.
//
// A workspace is the server-side "editor buffer": the orchestrator reads its
// Code before a run and overwrites it when an automatic fix is applied.
//
// SecretHash is a bcrypt hash of the optional secret chosen at creation. It lets
// the owner mint a fresh access token after the old one expires. The `json:"-"`
// tag keeps it out of every API response.
type Workspace struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Language   string    `json:"language"`
	Code       string    `json:"code"`
	SecretHash string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// SourceDocument is the (language, text) pair a run starts from.
type SourceDocument struct {
	Language string `json:"language"`
	Text     string `json:"text"`
}
