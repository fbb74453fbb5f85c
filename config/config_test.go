package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTestAccounts(t *testing.T) {
	accounts, err := parseTestAccounts("alice:pass1:1:secret1;bob:pass2:30:secret2")

	assert.NoError(t, err)
	assert.Len(t, accounts, 2)
	assert.Equal(t, "alice", accounts[0].Username)
	assert.Equal(t, 1, accounts[0].ExternalID)
	assert.Equal(t, "secret2", accounts[1].Secret)
	assert.Equal(t, 30, accounts[1].ExternalID)
}

func TestParseTestAccountsEmpty(t *testing.T) {
	accounts, err := parseTestAccounts("")

	assert.NoError(t, err)
	assert.Nil(t, accounts)
}

func TestParseTestAccountsMalformed(t *testing.T) {
	_, err := parseTestAccounts("alice:pass1:1")
	assert.Error(t, err)

	_, err = parseTestAccounts("alice:pass1:abc:secret")
	assert.Error(t, err)
}

func TestParseTestAccountsExternalIDRange(t *testing.T) {
	// Внешний API принимает идентификаторы только из диапазона [1, 30]
	for _, id := range []string{"0", "31", "-5"} {
		_, err := parseTestAccounts("alice:pass1:" + id + ":secret1")
		assert.Error(t, err, "внешний ID %s должен отклоняться", id)
	}
}
