// Package id provides prefixed ID generation used across the store and
// service layers.
package id

import (
	nanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultLength = 21

const (
	PrefixConversation = "conv"
	PrefixMessage       = "msg"
	PrefixAgent         = "agt"
	PrefixListing       = "lst"
	PrefixTransaction   = "txn"
	PrefixAttachment    = "att"
	PrefixTask          = "tsk"
)

func New(prefix string) string {
	v, err := nanoid.New(DefaultLength)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + v
}

func NewConversation() string { return New(PrefixConversation) }
func NewMessage() string      { return New(PrefixMessage) }
func NewAgent() string        { return New(PrefixAgent) }
func NewListing() string      { return New(PrefixListing) }
func NewTransaction() string  { return New(PrefixTransaction) }
func NewAttachment() string   { return New(PrefixAttachment) }
func NewTask() string         { return New(PrefixTask) }
