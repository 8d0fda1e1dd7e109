package normalize_test

import (
	"testing"

	"github.com/agentguard/agentguard/pkg/normalize"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestAction_AcceptsEveryInputShape(t *testing.T) {
	cases := map[string]string{
		"read:file":      "read:file",
		"read file":      "read:file",
		"Read File":      "read:file",
		"readFile":       "read:file",
		"read-file":      "read:file",
		"read_file":      "read:file",
		"read":           "read:*",
		"delete:database": "delete:database",
		"write database access": "write:database_access",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalize.Action(in), "input %q", in)
	}
}

func TestAction_IsIdempotent(t *testing.T) {
	props := gopter.NewProperties(nil)
	inputs := gen.OneConstOf(
		"read:file", "read file", "Read File", "readFile", "read-file",
		"read_file", "read", "delete:database", "writeDatabaseAccess",
		"verb:*", "*:noun", "*",
	)
	props.Property("normalize is idempotent", prop.ForAll(
		func(raw string) bool {
			once := normalize.Action(raw)
			twice := normalize.Action(once)
			return once == twice
		},
		inputs,
	))
	props.TestingRun(t)
}

func TestMatchAction(t *testing.T) {
	assert.True(t, normalize.MatchAction("read:*", "read:file"))
	assert.True(t, normalize.MatchAction("read:*", "read:database"))
	assert.True(t, normalize.MatchAction("*:file", "read:file"))
	assert.True(t, normalize.MatchAction("*", "anything:goes"))
	assert.False(t, normalize.MatchAction("read:*", "write:file"))
	assert.False(t, normalize.MatchAction("read:file", "read:files"))
}

func TestMatchResource(t *testing.T) {
	assert.True(t, normalize.MatchResource("*", "anything/at/all"))
	assert.True(t, normalize.MatchResource("secret/*", "secret/keys"))
	assert.True(t, normalize.MatchResource("secret/*", "secret/nested/keys"))
	assert.False(t, normalize.MatchResource("secret/*", "public/keys"))
	assert.True(t, normalize.MatchResource("a.txt", "a.txt"))
	assert.False(t, normalize.MatchResource("a.txt", "b.txt"))
}
