package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeStruct_TrimsAndEscapes(t *testing.T) {
	donor := "  <b>Alice</b> "
	loc := "  123e4567-e89b-12d3-a456-426614174000  "
	req := CreateDonationRequest{
		LocationID: &loc,
		DonorName:  &donor,
	}

	SanitizeStruct(&req)

	assert.Equal(t, "123e4567-e89b-12d3-a456-426614174000", *req.LocationID)
	assert.Equal(t, "&lt;b&gt;Alice&lt;/b&gt;", *req.DonorName)
}

func TestSanitizeStruct_NilPointerField(t *testing.T) {
	loc := "abc"
	req := CreateDonationRequest{LocationID: &loc}

	SanitizeStruct(&req)

	assert.Nil(t, req.DonorName)
	assert.Equal(t, "abc", *req.LocationID)
}

func TestSanitizeStruct_NonPointerIgnored(t *testing.T) {
	req := LoginRequest{Username: " user "}

	// Passing by value must be a no-op, not a panic.
	SanitizeStruct(req)

	assert.Equal(t, " user ", req.Username)
}
