package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandUser(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	assert.Equal(t, home, expandUser("~"))
	assert.Equal(t, filepath.Join(home, "projects", ".env"), expandUser("~/projects/.env"))
	assert.Equal(t, "/tmp/.env", expandUser("/tmp/.env"))
	assert.Equal(t, "relative/.env", expandUser("relative/.env"))
	assert.Equal(t, "~user/x", expandUser("~user/x"))
}
